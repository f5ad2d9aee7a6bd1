// Package bus fans bridge events out between server sessions.
//
// An event posted by one client (over POST /api/event or a WebSocket frame)
// is published once on the bus and delivered to every session subscribed to
// the subject, including sessions served by other bridge processes when the
// NATS backend is used.
//
// # Available Implementations
//
//   - MemoryBus: in-process delivery for a single bridge
//   - NATSBus: delivery through a NATS server for several bridges
//
// # Usage
//
//	b, _ := bus.New(bus.Config{Kind: bus.KindMemory})
//	sub, _ := b.Subscribe("bridge.events")
//	b.Publish(ctx, &bus.Message{Subject: "bridge.events", Origin: sessionID, Data: frame})
//	for msg := range sub.Messages() {
//	    if msg.Origin != sessionID {
//	        // forward msg.Data to the session
//	    }
//	}
//
// Message.Origin names the publishing session so receivers can skip their
// own events. Delivery is best effort; a full subscription buffer drops
// messages.
package bus
