// Package server is the bridge endpoint editors and web clients connect to.
//
// Routes:
//
//	GET  /health        server status
//	GET  /api/adapters  registered adapters and their health
//	POST /api/request   one request envelope in, one response envelope out
//	POST /api/event     one event envelope in, 204 out
//	GET  /ws            WebSocket session carrying any envelope type
//
// Requests are routed through adapter.Resolve to the adapter serving the
// operation. Events from any client are published on a bus.Bus and fanned
// out to every WebSocket session except the one that sent them.
//
// Usage:
//
//	reg := adapter.NewRegistry()
//	reg.Register("fs", fs)
//	srv, err := server.New(reg, server.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
