// Package heartbeat provides application-level keep-alive for bridge links.
//
// A Sender invokes a beat function on a fixed interval; the transport uses
// it to emit Heartbeat{ping} envelopes. A Monitor records when each peer was
// last heard from and invokes OnDead callbacks once per silence, which the
// transport and the bridge server use to tear down stale links.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Interval: 30 * time.Second,
//	    Beat:     func(ctx context.Context) error { return t.SendMessage(ctx, ping) },
//	})
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Timeout: 90 * time.Second})
//	monitor.OnDead(func(peer string) { closeSession(peer) })
//	monitor.Start()
//	monitor.Touch(sessionID) // on every inbound frame
//
// Set the monitor timeout to two or three beat intervals.
package heartbeat
