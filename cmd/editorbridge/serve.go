package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/editorbridge/adapter"
	"github.com/vinayprograms/editorbridge/adapter/fsadapter"
	"github.com/vinayprograms/editorbridge/bus"
	"github.com/vinayprograms/editorbridge/server"
	"github.com/vinayprograms/editorbridge/shutdown"
	"github.com/vinayprograms/editorbridge/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr     string
		root     string
		readOnly bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a bridge serving a workspace directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if root != "" {
				c.cfg.Workspace.Root = root
			}
			if cmd.Flags().Changed("read-only") {
				c.cfg.Workspace.ReadOnly = readOnly
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&root, "root", "", "workspace directory (overrides workspace.root)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "refuse WRITE_FILE")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := c.cfg

	provider, err := telemetry.InitProvider(ctx, cfg.TelemetrySettings())
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	events, err := bus.New(cfg.BusSettings())
	if err != nil {
		provider.Shutdown(ctx)
		return fmt.Errorf("failed to open event bus: %w", err)
	}

	fs, err := fsadapter.New(fsadapter.Config{
		Root:     cfg.Workspace.Root,
		ReadOnly: cfg.Workspace.ReadOnly,
		Logger:   c.logger,
	})
	if err != nil {
		events.Close()
		provider.Shutdown(ctx)
		return err
	}

	registry := adapter.NewRegistry(
		adapter.WithRegistryLogger(c.logger),
		adapter.WithRegistryTracer(provider.Tracer()),
	)
	if err := registry.Register("filesystem", fs); err != nil {
		events.Close()
		provider.Shutdown(ctx)
		return err
	}

	srv, err := server.New(registry, cfg.ServerSettings(),
		server.WithLogger(c.logger),
		server.WithTracer(provider.Tracer()),
		server.WithBus(events),
	)
	if err != nil {
		events.Close()
		provider.Shutdown(ctx)
		return err
	}

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), shutdown.WithLogger(c.logger))
	shutdown.RegisterBridge(coord, shutdown.Bridge{
		Server:    srv,
		Registry:  registry,
		Bus:       events,
		Telemetry: provider,
	})
	stop := coord.HandleSignals()
	defer stop()

	if err := registry.InitializeAll(ctx); err != nil {
		coord.Trigger()
		<-coord.Done()
		return fmt.Errorf("failed to initialize adapters: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		coord.Trigger()
		<-coord.Done()
		if err != nil {
			return err
		}
		return coord.Result().Err
	case <-coord.Done():
		return coord.Result().Err
	}
}
