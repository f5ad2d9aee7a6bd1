package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/editorbridge/config"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/transport"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "0.1.0"

// cli holds global flags and the state PersistentPreRunE derives from them.
type cli struct {
	cfgFile  string
	endpoint string
	kind     string
	logLevel string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "editorbridge",
		Short: "Bridge editors and web clients over one message protocol",
		Long: `editorbridge relays requests, responses and events between editor
integrations and remote clients. "serve" runs a bridge; the other commands
talk to one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default editorbridge.toml, then ~/.config/editorbridge/config.toml)")
	flags.StringVar(&c.endpoint, "endpoint", "", "bridge endpoint, ws(s):// or http(s)://")
	flags.StringVar(&c.kind, "kind", "", "transport kind: websocket or http")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(c),
		newSendCmd(c),
		newEmitCmd(c),
		newWatchCmd(c),
		newHealthCmd(c),
		newOpsCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load(stderr io.Writer) error {
	cfg, _, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.endpoint != "" {
		cfg.Transport.Endpoint = c.endpoint
	}
	if c.kind != "" {
		cfg.Transport.Kind = c.kind
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logging.New()
	c.logger.SetOutput(stderr)
	c.logger.SetLevel(cfg.LogLevel())
	return nil
}

// connect opens a transport to the configured endpoint.
func (c *cli) connect(ctx context.Context) (*transport.Transport, error) {
	strategy, err := transport.NewStrategy(c.cfg.Transport.Kind, c.cfg.Transport.Endpoint)
	if err != nil {
		return nil, err
	}
	tr := transport.New(strategy, c.cfg.TransportSettings(), transport.WithLogger(c.logger))
	if err := tr.Connect(ctx); err != nil {
		tr.Close()
		return nil, err
	}
	return tr, nil
}
