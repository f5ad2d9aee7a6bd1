package shutdown

import (
	"context"
	"errors"
	"io"

	"github.com/vinayprograms/editorbridge/adapter"
)

// Shutdowner is a component stopped with a deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Bridge lists the components RegisterBridge tears down. Nil fields are
// skipped.
type Bridge struct {
	Server     Shutdowner
	Transports []io.Closer
	Registry   *adapter.Registry
	Bus        io.Closer
	Telemetry  Shutdowner
}

// RegisterBridge registers one step per component in its phase. The
// registry is disposed and then closed; adapters are never disposed before
// the server has stopped dispatching to them.
func RegisterBridge(c *Coordinator, b Bridge) {
	if b.Server != nil {
		c.Register("server", PhaseServer, b.Server.Shutdown)
	}
	for _, t := range b.Transports {
		c.Register("transport", PhaseClients, func(context.Context) error { return t.Close() })
	}
	if b.Registry != nil {
		reg := b.Registry
		c.Register("adapters", PhaseAdapters, func(ctx context.Context) error {
			return errors.Join(reg.DisposeAll(ctx), reg.Close())
		})
	}
	if b.Bus != nil {
		c.Register("bus", PhaseBus, func(context.Context) error { return b.Bus.Close() })
	}
	if b.Telemetry != nil {
		c.Register("telemetry", PhaseTelemetry, b.Telemetry.Shutdown)
	}
}
