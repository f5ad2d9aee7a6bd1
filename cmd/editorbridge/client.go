package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/transport"
)

func newSendCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <operation> [payload-json]",
		Short: "Send one request and print the response payload",
		Long: `Send one request to the bridge. The payload defaults to {} and may be
read from stdin with "-".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := protocol.Operation(strings.ToUpper(args[0]))
			if !op.Known() {
				return fmt.Errorf("unknown operation %q (see \"editorbridge ops\")", args[0])
			}
			payload, err := readPayload(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			tr, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer tr.Close()

			out, err := tr.Request(ctx, op, payload, protocol.RequestOptions{Timeout: timeout})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (default transport.timeout)")
	return cmd
}

func newEmitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "emit <event> [payload-json]",
		Short: "Publish an event to every connected client",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			tr, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer tr.Close()
			return tr.Emit(ctx, args[0], payload)
		},
	}
}

func newWatchCmd(c *cli) *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events as they arrive (WebSocket only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Transport.Kind != "websocket" {
				return fmt.Errorf("watch needs a websocket transport, have %q", c.cfg.Transport.Kind)
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer tr.Close()

			out := cmd.OutOrStdout()
			tr.Subscribe(protocol.TypeEvent, func(_ context.Context, m *protocol.Message) error {
				fmt.Fprintf(out, "%s %s\n", m.Event, compact(m.Payload))
				return nil
			})
			if _, err := tr.Handshake(ctx, protocol.PeerInfo{Name: client, Version: version}, nil); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case n, ok := <-tr.Watch():
					if !ok {
						return nil
					}
					if n.Kind == transport.NotifyReconnectExhausted {
						return fmt.Errorf("connection lost: %v", n.Err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&client, "client-name", "editorbridge-cli", "name announced in the handshake")
	return cmd
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query a bridge's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := transport.CheckHealth(commandContext(cmd), nil, c.cfg.Transport.Endpoint)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol %s)\n", status.Server, status.Status, status.Version)
			if status.Status != "ok" {
				return fmt.Errorf("bridge is %s", status.Status)
			}
			return nil
		},
	}
}

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List protocol operations",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, op := range protocol.OperationTable() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %s\n", op.Name, op.Contract, op.Description)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show editorbridge and protocol versions",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "editorbridge version %s\nprotocol version %s\n", version, protocol.ProtocolVersion)
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readPayload returns the payload argument as raw JSON, {} when absent and
// stdin for "-".
func readPayload(args []string, stdin io.Reader) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage("{}"), nil
	}
	data := []byte(args[0])
	if args[0] == "-" {
		var err error
		if data, err = io.ReadAll(io.LimitReader(stdin, protocol.MaxMessageSize)); err != nil {
			return nil, err
		}
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
