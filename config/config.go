// Package config loads the bridge configuration from TOML.
//
// Example:
//
//	[transport]
//	kind = "websocket"
//	endpoint = "ws://127.0.0.1:7420/ws"
//	timeout = "10s"
//
//	[server]
//	addr = "127.0.0.1:7420"
//
//	[bus]
//	kind = "nats"
//	url = "nats://localhost:4222"
//
//	[workspace]
//	root = "."
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/editorbridge/bus"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/server"
	"github.com/vinayprograms/editorbridge/telemetry"
	"github.com/vinayprograms/editorbridge/transport"
)

// ErrInsecurePermissions is returned when a file holding bus credentials is
// readable by group or others.
var ErrInsecurePermissions = fmt.Errorf("config file has insecure permissions")

// Duration is a time.Duration written as a string ("5s", "250ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the whole file.
type Config struct {
	Transport TransportConfig `toml:"transport"`
	Server    ServerConfig    `toml:"server"`
	Bus       BusConfig       `toml:"bus"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
	Workspace WorkspaceConfig `toml:"workspace"`
}

// TransportConfig is the client side: how CLI commands reach a bridge.
type TransportConfig struct {
	Kind                 string   `toml:"kind"`
	Endpoint             string   `toml:"endpoint"`
	Timeout              Duration `toml:"timeout"`
	ReconnectDelay       Duration `toml:"reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	KeepAlive            bool     `toml:"keep_alive"`
	KeepAliveInterval    Duration `toml:"keep_alive_interval"`
	KeepAliveTimeout     Duration `toml:"keep_alive_timeout"`
	Compression          bool     `toml:"compression"`
	Encryption           bool     `toml:"encryption"`
}

// ServerConfig configures `editorbridge serve`.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	Name           string   `toml:"name"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RequestTimeout Duration `toml:"request_timeout"`
	IdleTimeout    Duration `toml:"idle_timeout"`
}

// BusConfig selects the event fan-out backend.
type BusConfig struct {
	Kind     string `toml:"kind"`
	URL      string `toml:"url"`
	Subject  string `toml:"subject"`
	Token    string `toml:"token"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// TelemetryConfig configures OTLP span export.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// WorkspaceConfig configures the filesystem adapter served by `serve`.
type WorkspaceConfig struct {
	Root     string `toml:"root"`
	ReadOnly bool   `toml:"read_only"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	tc := transport.DefaultConfig()
	sc := server.DefaultConfig()
	return &Config{
		Transport: TransportConfig{
			Kind:                 "websocket",
			Endpoint:             "ws://" + sc.Addr + transport.PathWS,
			Timeout:              Duration{tc.Timeout},
			ReconnectDelay:       Duration{tc.ReconnectDelay},
			MaxReconnectAttempts: tc.MaxReconnectAttempts,
			KeepAliveInterval:    Duration{tc.KeepAliveInterval},
		},
		Server: ServerConfig{
			Addr:           sc.Addr,
			Name:           sc.Name,
			RequestTimeout: Duration{sc.RequestTimeout},
			IdleTimeout:    Duration{sc.IdleTimeout},
		},
		Bus: BusConfig{
			Kind:    bus.KindMemory,
			Subject: bus.DefaultSubject,
		},
		Telemetry: TelemetryConfig{Protocol: "grpc"},
		Log:       LogConfig{Level: "info"},
		Workspace: WorkspaceConfig{Root: "."},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"editorbridge.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "editorbridge", "config.toml"))
	}
	return paths
}

// Load reads path, or the first standard location that exists when path
// is empty. With no file found the defaults are returned and the returned
// path is empty.
func Load(path string) (*Config, string, error) {
	if path != "" {
		cfg, err := LoadFile(path)
		return cfg, path, err
	}
	for _, p := range StandardPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg, err := LoadFile(p)
			return cfg, p, err
		}
	}
	return Default(), "", nil
}

// LoadFile decodes path over the defaults and validates the result. A file
// carrying a bus token or password must not be readable by group or others.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "parsing "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, perrors.InvalidRequest(fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")))
	}

	if cfg.Bus.Token != "" || cfg.Bus.Password != "" {
		if err := checkPermissions(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (holds bus credentials; use 0600)", ErrInsecurePermissions, path, mode)
	}
	return nil
}

// Validate rejects unknown kinds and negative durations.
func (c *Config) Validate() error {
	var problems []string
	switch c.Transport.Kind {
	case "http", "websocket":
	default:
		problems = append(problems, fmt.Sprintf("transport.kind %q must be http or websocket", c.Transport.Kind))
	}
	if c.Transport.Endpoint == "" {
		problems = append(problems, "transport.endpoint is required")
	}
	if c.Transport.MaxReconnectAttempts < 0 {
		problems = append(problems, "transport.max_reconnect_attempts must not be negative")
	}
	for name, d := range map[string]Duration{
		"transport.timeout":             c.Transport.Timeout,
		"transport.reconnect_delay":     c.Transport.ReconnectDelay,
		"transport.keep_alive_interval": c.Transport.KeepAliveInterval,
		"transport.keep_alive_timeout":  c.Transport.KeepAliveTimeout,
		"server.request_timeout":        c.Server.RequestTimeout,
		"server.idle_timeout":           c.Server.IdleTimeout,
	} {
		if d.Duration < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	switch c.Bus.Kind {
	case bus.KindMemory, bus.KindNATS:
	default:
		problems = append(problems, fmt.Sprintf("bus.kind %q must be memory or nats", c.Bus.Kind))
	}
	if err := bus.ValidateSubject(c.Bus.Subject); err != nil {
		problems = append(problems, "bus.subject: "+err.Error())
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level: "+err.Error())
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return perrors.InvalidRequest("invalid configuration: "+strings.Join(problems, "; "),
			perrors.WithDetail("problems", problems))
	}
	return nil
}

// --- Conversions ---

// TransportSettings returns the transport configuration.
func (c *Config) TransportSettings() transport.Config {
	tc := transport.DefaultConfig()
	tc.Timeout = c.Transport.Timeout.Duration
	tc.ReconnectDelay = c.Transport.ReconnectDelay.Duration
	tc.MaxReconnectAttempts = c.Transport.MaxReconnectAttempts
	tc.KeepAlive = c.Transport.KeepAlive
	tc.KeepAliveInterval = c.Transport.KeepAliveInterval.Duration
	tc.KeepAliveTimeout = c.Transport.KeepAliveTimeout.Duration
	tc.Compression = c.Transport.Compression
	tc.Encryption = c.Transport.Encryption
	return tc
}

// ServerSettings returns the server configuration.
func (c *Config) ServerSettings() server.Config {
	return server.Config{
		Addr:           c.Server.Addr,
		Name:           c.Server.Name,
		AllowedOrigins: c.Server.AllowedOrigins,
		Subject:        c.Bus.Subject,
		RequestTimeout: c.Server.RequestTimeout.Duration,
		IdleTimeout:    c.Server.IdleTimeout.Duration,
	}
}

// BusSettings returns the bus configuration.
func (c *Config) BusSettings() bus.Config {
	bc := bus.DefaultConfig()
	bc.Kind = c.Bus.Kind
	if c.Bus.URL != "" {
		bc.NATS.URL = c.Bus.URL
	}
	bc.NATS.Token = c.Bus.Token
	bc.NATS.User = c.Bus.User
	bc.NATS.Password = c.Bus.Password
	return bc
}

// TelemetrySettings returns the span export configuration.
func (c *Config) TelemetrySettings() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: protocol.ProtocolVersion,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
	}
}

// LogLevel returns the parsed log level, INFO when unset.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
