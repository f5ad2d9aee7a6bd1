package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
)

func writeConfig(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editorbridge.toml")
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Unit Tests ---

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Transport.Endpoint != "ws://127.0.0.1:7420/ws" {
		t.Errorf("Endpoint = %s", cfg.Transport.Endpoint)
	}
	if cfg.Transport.Timeout.Duration != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Transport.Timeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[transport]
kind = "http"
endpoint = "http://bridge.local:9000"
timeout = "250ms"
max_reconnect_attempts = 2
keep_alive = true
keep_alive_interval = "5s"

[server]
addr = ":9000"
allowed_origins = ["https://app.example.com"]
idle_timeout = "1m"

[bus]
kind = "nats"
url = "nats://bus:4222"
subject = "team.events"

[telemetry]
enabled = true
protocol = "http"
endpoint = "collector:4318"

[log]
level = "debug"

[workspace]
root = "/srv/project"
read_only = true
`, 0o644)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	tc := cfg.TransportSettings()
	if tc.Timeout != 250*time.Millisecond || tc.MaxReconnectAttempts != 2 || !tc.KeepAlive || tc.KeepAliveInterval != 5*time.Second {
		t.Errorf("transport = %+v", tc)
	}
	if tc.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay default lost: %v", tc.ReconnectDelay)
	}

	sc := cfg.ServerSettings()
	if sc.Addr != ":9000" || sc.IdleTimeout != time.Minute || sc.Subject != "team.events" || len(sc.AllowedOrigins) != 1 {
		t.Errorf("server = %+v", sc)
	}
	if sc.Name != "editorbridge" {
		t.Errorf("Name default lost: %q", sc.Name)
	}

	bc := cfg.BusSettings()
	if bc.Kind != "nats" || bc.NATS.URL != "nats://bus:4222" {
		t.Errorf("bus = %+v", bc)
	}

	if pc := cfg.TelemetrySettings(); !pc.Enabled || pc.Protocol != "http" || pc.Endpoint != "collector:4318" {
		t.Errorf("telemetry = %+v", pc)
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel = %s", cfg.LogLevel())
	}
	if cfg.Workspace.Root != "/srv/project" || !cfg.Workspace.ReadOnly {
		t.Errorf("workspace = %+v", cfg.Workspace)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad toml", "[transport\n", "parsing"},
		{"unknown key", "[transport]\nspeed = 3\n", "unknown keys transport.speed"},
		{"bad duration", "[transport]\ntimeout = \"soon\"\n", "parsing"},
		{"bad transport kind", "[transport]\nkind = \"grpc\"\n", "transport.kind"},
		{"bad bus kind", "[bus]\nkind = \"kafka\"\n", "bus.kind"},
		{"wildcard subject", "[bus]\nsubject = \"bridge.>\"\n", "bus.subject"},
		{"negative duration", "[server]\nidle_timeout = \"-1s\"\n", "server.idle_timeout"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content, 0o644))
			if err == nil {
				t.Fatal("expected error")
			}
			if !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
				t.Errorf("code = %s", perrors.Code(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_SecretsNeedPrivateFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	content := "[bus]\nkind = \"nats\"\ntoken = \"s3cret\"\n"

	_, err := LoadFile(writeConfig(t, content, 0o644))
	if !errors.Is(err, ErrInsecurePermissions) {
		t.Errorf("err = %v, want ErrInsecurePermissions", err)
	}

	cfg, err := LoadFile(writeConfig(t, content, 0o600))
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.BusSettings().NATS.Token != "s3cret" {
		t.Error("token not carried")
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "[server]\nname = \"explicit\"\n", 0o644)
	cfg, used, err := Load(path)
	if err != nil || used != path || cfg.Server.Name != "explicit" {
		t.Errorf("Load(path) = %+v, %q, %v", cfg.Server, used, err)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("explicit missing path should fail")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(wd)

	cfg, used, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if used != "" || cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("Load = %q, %+v", used, cfg.Server)
	}
}

func TestStandardPaths(t *testing.T) {
	paths := StandardPaths()
	if len(paths) == 0 || paths[0] != "editorbridge.toml" {
		t.Errorf("paths = %v", paths)
	}
}
