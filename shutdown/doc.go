// Package shutdown tears the bridge down in phases when the process is
// asked to stop.
//
// Steps run in ascending phase order. Steps sharing a phase run
// concurrently, and every step sees the same deadline:
//
//	PhaseServer     stop accepting connections, disconnect sessions
//	PhaseClients    close outbound transports
//	PhaseAdapters   dispose adapters, close the registry
//	PhaseBus        close the event bus
//	PhaseTelemetry  flush and stop span export
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	shutdown.RegisterBridge(coord, shutdown.Bridge{
//	    Server:    srv,
//	    Registry:  reg,
//	    Bus:       b,
//	    Telemetry: provider,
//	})
//	stop := coord.HandleSignals()
//	defer stop()
//	<-coord.Done()
package shutdown
