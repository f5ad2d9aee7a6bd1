// Package transport turns an HTTP or WebSocket channel into a uniform
// request/response/event interface over protocol envelopes.
//
// # Overview
//
// A Transport owns one connection to a bridge endpoint. The wire mechanics
// live in a Strategy; everything else is shared: the connection state
// machine, pending-request correlation with per-request timeouts, handler
// dispatch, reconnection and keep-alive.
//
//	DISCONNECTED --Connect--> CONNECTING --ok--> CONNECTED
//	CONNECTED --link lost--> DISCONNECTED --delay--> RECONNECTING --> CONNECTING
//	CONNECTING --failure--> FAILED --Connect--> CONNECTING
//
// # Strategies
//
//   - HTTPStrategy: requests POST to <endpoint>/api/request and the response
//     envelope comes back in the body; everything else POSTs to /api/event.
//     Not persistent, so it never reconnects or sends keep-alives.
//   - WebSocketStrategy: one gorilla/websocket connection carrying text
//     frames in both directions. Persistent.
//
// # Usage
//
//	s, _ := transport.NewWebSocketStrategy("ws://localhost:7450/ws", transport.DefaultWebSocketOptions())
//	t := transport.New(s, transport.DefaultConfig())
//	defer t.Close()
//
//	if err := t.Connect(ctx); err != nil { ... }
//	file, err := protocol.Call(ctx, t, protocol.ReadFile, protocol.ReadFileRequest{Path: "main.go"}, protocol.RequestOptions{})
//
//	for n := range t.Watch() {
//	    if n.Kind == transport.NotifyReconnectExhausted { ... }
//	}
//
// # Pending requests
//
// Every Send registers an entry keyed by message id. Exactly one of four
// things settles it: the matching response, the timer, Cleanup/Disconnect,
// or the caller's context. Whoever removes the entry from the map wins; the
// others find nothing to do.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Handlers and notification
// delivery run outside the transport lock.
package transport
