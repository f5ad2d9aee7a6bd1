package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/heartbeat"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/telemetry"
)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) {
		t.logger = l.WithComponent("transport")
	}
}

// WithTracer sets the tracer used for send spans.
func WithTracer(tr *telemetry.Tracer) Option {
	return func(t *Transport) {
		t.tracer = tr
	}
}

type pendingResult struct {
	msg *protocol.Message
	err error
}

type pendingRequest struct {
	timer   *time.Timer
	result  chan pendingResult // capacity 1, written only by the settler
	started time.Time
}

// Transport is one connection to a bridge endpoint.
type Transport struct {
	strategy Strategy
	config   Config
	factory  *protocol.Factory
	logger   *logging.Logger
	tracer   *telemetry.Tracer

	mu             sync.Mutex
	info           ConnectionInfo
	pending        map[string]*pendingRequest
	handlers       map[protocol.MessageType][]*Subscription
	nextSubID      uint64
	closed         bool
	reconnectTimer *time.Timer
	reconnectGen   uint64
	sender         *heartbeat.Sender
	monitor        *heartbeat.Monitor

	watchMu     sync.Mutex
	watchers    []chan Notification
	watchClosed bool

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	reconnects       atomic.Int64
	errorCount       atomic.Int64
}

// New creates a disconnected transport over strategy.
func New(strategy Strategy, cfg Config, opts ...Option) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		strategy: strategy,
		config:   cfg,
		factory:  protocol.NewFactory(protocol.WithIDPrefix(cfg.IDPrefix)),
		logger:   logging.New().WithComponent("transport"),
		tracer:   telemetry.GetTracer(),
		info: ConnectionInfo{
			ID:        uuid.NewString(),
			Transport: strategy.Name(),
			Endpoint:  strategy.Endpoint(),
			State:     StateDisconnected,
		},
		pending:  make(map[string]*pendingRequest),
		handlers: make(map[protocol.MessageType][]*Subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	if cfg.Compression || cfg.Encryption {
		t.logger.Warn("compression and encryption are not supported; flags ignored", map[string]interface{}{
			"compression": cfg.Compression,
			"encryption":  cfg.Encryption,
		})
	}
	return t
}

// Factory returns the envelope factory used for generated messages.
func (t *Transport) Factory() *protocol.Factory {
	return t.factory
}

// Config returns the effective configuration.
func (t *Transport) Config() Config {
	return t.config
}

// Info returns a snapshot of the connection.
func (t *Transport) Info() ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// State returns the current state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.State
}

// IsConnected reports whether the state is CONNECTED.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Stats returns a snapshot of the traffic counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	var uptime time.Duration
	if t.info.State == StateConnected && !t.info.ConnectedAt.IsZero() {
		uptime = time.Since(t.info.ConnectedAt)
	}
	t.mu.Unlock()

	return Stats{
		MessagesSent:     t.messagesSent.Load(),
		MessagesReceived: t.messagesReceived.Load(),
		BytesSent:        t.bytesSent.Load(),
		BytesReceived:    t.bytesReceived.Load(),
		Reconnects:       t.reconnects.Load(),
		Errors:           t.errorCount.Load(),
		Uptime:           uptime,
	}
}

// PendingCount returns the number of requests awaiting a response.
func (t *Transport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// setStateLocked changes state and returns the previous one.
func (t *Transport) setStateLocked(s State) State {
	from := t.info.State
	t.info.State = s
	return from
}

func (t *Transport) logTransition(from, to State) {
	if from != to {
		t.logger.StateChange(t.info.ID, string(from), string(to))
	}
}

// --- Connection lifecycle ---

// Connect establishes the link. It is a no-op when already connected. The
// attempt is bounded by Config.Timeout as well as ctx; running out of time
// yields CONNECTION_TIMEOUT.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return perrors.ConnectionFailed("transport is closed")
	}
	switch t.info.State {
	case StateConnected:
		t.mu.Unlock()
		return nil
	case StateConnecting:
		t.mu.Unlock()
		return perrors.ConnectionFailed("connect already in progress")
	}
	t.stopReconnectLocked()
	from := t.setStateLocked(StateConnecting)
	t.mu.Unlock()

	t.logTransition(from, StateConnecting)
	t.notify(Notification{Kind: NotifyConnecting, State: StateConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	err := t.strategy.Connect(dialCtx, t)
	cancel()
	if err != nil {
		return t.connectFailed(err)
	}

	t.mu.Lock()
	if t.closed || t.info.State != StateConnecting {
		t.mu.Unlock()
		t.strategy.Disconnect()
		return perrors.ConnectionFailed("connect interrupted")
	}
	now := time.Now()
	from = t.setStateLocked(StateConnected)
	t.info.ConnectedAt = now
	t.info.LastActivity = now
	t.info.ReconnectAttempts = 0
	t.mu.Unlock()

	t.logTransition(from, StateConnected)
	t.notify(Notification{Kind: NotifyConnected, State: StateConnected})
	t.startKeepAlive()
	return nil
}

func (t *Transport) connectFailed(err error) error {
	pErr := perrors.As(err)
	if pErr == nil {
		pErr = perrors.ConnectionFailed("connect failed", perrors.WithCause(err))
	}
	t.errorCount.Add(1)

	t.mu.Lock()
	from := t.setStateLocked(StateFailed)
	t.mu.Unlock()

	t.logTransition(from, StateFailed)
	t.logger.Warn("connect failed", map[string]interface{}{
		"endpoint": t.info.Endpoint,
		"error":    pErr.Error(),
	})
	t.notify(Notification{Kind: NotifyError, State: StateFailed, Err: pErr})
	return pErr
}

// Disconnect closes the link, cancels any scheduled reconnect and rejects
// pending requests with CONNECTION_LOST.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.stopReconnectLocked()
	from := t.setStateLocked(StateDisconnected)
	t.mu.Unlock()

	t.stopKeepAlive()
	err := t.strategy.Disconnect()
	t.failPending(perrors.ConnectionLost("transport disconnected"))

	if from != StateDisconnected {
		t.logTransition(from, StateDisconnected)
		t.notify(Notification{Kind: NotifyDisconnected, State: StateDisconnected})
	}
	return err
}

// LinkLost is called by strategies when a live link drops. Outside the
// CONNECTED state it does nothing.
func (t *Transport) LinkLost(cause error) {
	t.mu.Lock()
	if t.closed || t.info.State != StateConnected {
		t.mu.Unlock()
		return
	}
	from := t.setStateLocked(StateDisconnected)
	t.mu.Unlock()

	t.errorCount.Add(1)
	t.logTransition(from, StateDisconnected)

	lost := perrors.ConnectionLost("connection lost", perrors.WithCause(cause))
	t.logger.Warn("link lost", map[string]interface{}{"error": lost.Error()})

	t.stopKeepAlive()
	t.strategy.Disconnect()
	t.failPending(lost)
	t.notify(Notification{Kind: NotifyDisconnected, State: StateDisconnected, Err: lost})
	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	if !t.strategy.Persistent() || t.config.MaxReconnectAttempts == 0 {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	attempts := t.info.ReconnectAttempts
	if attempts >= t.config.MaxReconnectAttempts {
		t.mu.Unlock()
		err := perrors.ConnectionFailed(fmt.Sprintf("gave up after %d reconnect attempts", attempts),
			perrors.WithDetail("attempts", attempts))
		t.logger.Error("reconnect exhausted", map[string]interface{}{
			"endpoint": t.info.Endpoint,
			"attempts": attempts,
		})
		t.notify(Notification{Kind: NotifyReconnectExhausted, State: t.State(), Err: err, Attempt: attempts})
		return
	}
	gen := t.reconnectGen
	t.reconnectTimer = time.AfterFunc(t.config.ReconnectDelay, func() { t.reconnect(gen) })
	t.mu.Unlock()
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.reconnectGen ||
		(t.info.State != StateDisconnected && t.info.State != StateFailed) {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = nil
	t.info.ReconnectAttempts++
	attempt := t.info.ReconnectAttempts
	from := t.setStateLocked(StateReconnecting)
	t.mu.Unlock()

	t.reconnects.Add(1)
	t.logTransition(from, StateReconnecting)
	t.notify(Notification{Kind: NotifyReconnecting, State: StateReconnecting, Attempt: attempt})

	if err := t.Connect(context.Background()); err != nil {
		t.scheduleReconnect()
	}
}

// stopReconnectLocked cancels any scheduled reconnect. Timers that already
// fired see the bumped generation and back off.
func (t *Transport) stopReconnectLocked() {
	t.reconnectGen++
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

// --- Keep-alive ---

func (t *Transport) startKeepAlive() {
	if !t.config.KeepAlive || !t.strategy.Persistent() {
		return
	}

	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Interval: t.config.KeepAliveInterval,
		Beat: func(ctx context.Context) error {
			return t.SendMessage(ctx, t.factory.NewHeartbeat(protocol.HeartbeatPing))
		},
		OnError: func(err error) {
			t.logger.Debug("keep-alive ping failed", map[string]interface{}{"error": err.Error()})
		},
	})
	if err != nil {
		t.logger.Error("keep-alive disabled", map[string]interface{}{"error": err.Error()})
		return
	}

	var monitor *heartbeat.Monitor
	if timeout := t.config.KeepAliveTimeout; timeout > 0 {
		monitor, err = heartbeat.NewMonitor(heartbeat.MonitorConfig{Timeout: timeout})
		if err != nil {
			t.logger.Error("keep-alive monitor disabled", map[string]interface{}{"error": err.Error()})
			monitor = nil
		} else {
			monitor.OnDead(func(string) {
				// LinkLost stops this monitor, so it cannot run on the monitor goroutine.
				go t.LinkLost(perrors.ConnectionTimeout(timeout, perrors.WithDetail("reason", "keep-alive")))
			})
		}
	}

	t.mu.Lock()
	if t.info.State != StateConnected || t.sender != nil {
		t.mu.Unlock()
		return
	}
	t.sender = sender
	t.monitor = monitor
	connID := t.info.ID
	t.mu.Unlock()

	if monitor != nil {
		monitor.Touch(connID)
		monitor.Start()
	}
	sender.Start(context.Background())
}

func (t *Transport) stopKeepAlive() {
	t.mu.Lock()
	sender, monitor := t.sender, t.monitor
	t.sender, t.monitor = nil, nil
	t.mu.Unlock()

	if sender != nil {
		sender.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
}

// --- Sending ---

// Send transmits a request and waits for its response. It fails at once
// with CONNECTION_FAILED when not connected, with CONNECTION_TIMEOUT when no
// response arrives within the request's timeout (or Config.Timeout), and
// with the carried error when the response reports failure.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg == nil {
		return nil, perrors.InvalidRequest("nil message")
	}
	if !t.IsConnected() {
		return nil, perrors.ConnectionFailed("transport is not connected",
			perrors.WithDetail("state", string(t.State())))
	}

	bound := msg.TimeoutDuration()
	if bound <= 0 {
		bound = t.config.Timeout
	}
	id := msg.ID
	p := &pendingRequest{result: make(chan pendingResult, 1), started: time.Now()}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, perrors.ConnectionFailed("transport is closed")
	}
	if _, dup := t.pending[id]; dup {
		t.mu.Unlock()
		return nil, perrors.InvalidRequest("duplicate request id", perrors.WithDetail("id", id))
	}
	t.pending[id] = p
	p.timer = time.AfterFunc(bound, func() {
		t.settle(id, pendingResult{err: perrors.ConnectionTimeout(bound, perrors.WithDetail("request_id", id))})
	})
	t.mu.Unlock()

	// Strategies that answer inline (HTTP) block here, so the write shares
	// the request bound.
	sendCtx, cancel := context.WithTimeout(ctx, bound)
	err := t.SendMessage(sendCtx, msg)
	cancel()
	if err != nil {
		if perrors.Is(err, perrors.ErrCodeConnectionTimeout) {
			err = perrors.ConnectionTimeout(bound, perrors.WithDetail("request_id", id))
		}
		t.settle(id, pendingResult{err: err})
	}

	var r pendingResult
	select {
	case r = <-p.result:
	case <-ctx.Done():
		t.settle(id, pendingResult{err: perrors.Wrap(ctx.Err(), "request "+id+" abandoned")})
		r = <-p.result
	}

	err = r.err
	if err == nil && !r.msg.Succeeded() {
		err = remoteError(r.msg)
	}
	t.logger.RequestComplete(string(msg.Operation), id, time.Since(p.started), err)
	if r.err != nil {
		return nil, r.err
	}
	return r.msg, err
}

func remoteError(resp *protocol.Message) error {
	if resp.Error != nil {
		return resp.Error.Err()
	}
	return perrors.Internal("response reported failure without error")
}

// settle completes a pending request. It returns false when another path
// already settled it.
func (t *Transport) settle(id string, r pendingResult) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		p.timer.Stop()
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.result <- r
	return true
}

func (t *Transport) failPending(err error) {
	t.mu.Lock()
	victims := t.pending
	t.pending = make(map[string]*pendingRequest)
	for _, p := range victims {
		p.timer.Stop()
	}
	t.mu.Unlock()

	for _, p := range victims {
		p.result <- pendingResult{err: err}
	}
}

// Request sends op with payload and returns the response payload.
func (t *Transport) Request(ctx context.Context, op protocol.Operation, payload interface{}, opts ...protocol.RequestOptions) (json.RawMessage, error) {
	var o protocol.RequestOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	msg, err := t.factory.NewRequest(op, payload, o)
	if err != nil {
		return nil, err
	}
	resp, err := t.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Emit sends an event without waiting for anything.
func (t *Transport) Emit(ctx context.Context, name string, payload interface{}) error {
	msg, err := t.factory.NewEvent(name, payload)
	if err != nil {
		return err
	}
	return t.SendMessage(ctx, msg)
}

// Handshake announces this client and waits for the server's handshake
// reply. A disconnect reply with a version mismatch fails with
// PROTOCOL_VERSION_MISMATCH.
func (t *Transport) Handshake(ctx context.Context, client protocol.PeerInfo, capabilities []string) (*protocol.Message, error) {
	if !t.strategy.Persistent() {
		return nil, perrors.InvalidRequest("handshake requires a persistent transport")
	}

	replies := make(chan *protocol.Message, 1)
	forward := func(_ context.Context, m *protocol.Message) error {
		select {
		case replies <- m:
		default:
		}
		return nil
	}
	hs := t.Subscribe(protocol.TypeHandshake, forward)
	defer hs.Unsubscribe()
	dc := t.Subscribe(protocol.TypeDisconnect, forward)
	defer dc.Unsubscribe()

	if err := t.SendMessage(ctx, t.factory.NewHandshake(client, nil, capabilities)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.config.Timeout)
	defer timer.Stop()

	select {
	case m := <-replies:
		if m.Type == protocol.TypeDisconnect {
			if m.Code != nil && *m.Code == DisconnectVersionMismatch {
				return m, perrors.New(perrors.ErrCodeVersionMismatch, m.Reason)
			}
			return m, perrors.ConnectionLost("server refused handshake: " + m.Reason)
		}
		return m, nil
	case <-timer.C:
		return nil, perrors.ConnectionTimeout(t.config.Timeout, perrors.WithDetail("reason", "handshake"))
	case <-ctx.Done():
		return nil, perrors.Wrap(ctx.Err(), "handshake abandoned")
	}
}

// Disconnect codes carried in disconnect envelopes.
const (
	DisconnectNormal          = 1000
	DisconnectVersionMismatch = 4001
	DisconnectIdle            = 4002
	DisconnectShutdown        = 4003
)

// SendMessage serializes msg and hands it to the strategy.
func (t *Transport) SendMessage(ctx context.Context, msg *protocol.Message) error {
	if msg == nil {
		return perrors.InvalidRequest("nil message")
	}
	if !t.IsConnected() {
		return perrors.ConnectionFailed("transport is not connected",
			perrors.WithDetail("state", string(t.State())))
	}

	ctx, span := t.tracer.StartSendSpan(ctx, string(msg.Type))
	if msg.Type == protocol.TypeRequest {
		carrier := telemetry.MapCarrier{}
		for k, v := range msg.Metadata {
			carrier[k] = v
		}
		telemetry.InjectContext(ctx, carrier)
		if len(carrier) > 0 {
			msg.Metadata = carrier
		}
	}

	data, err := msg.Marshal()
	if err != nil {
		err = perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "encoding message")
	} else {
		err = t.strategy.SendRaw(ctx, msg, data)
	}
	t.tracer.EndSendSpan(span, telemetry.MessageSpanOptions{
		Transport: t.strategy.Name(),
		Endpoint:  t.info.Endpoint,
		MessageID: msg.ID,
		Type:      string(msg.Type),
		Operation: string(msg.Operation),
		Bytes:     len(data),
	}, err)
	if err != nil {
		t.errorCount.Add(1)
		return err
	}

	t.messagesSent.Add(1)
	t.bytesSent.Add(int64(len(data)))
	t.mu.Lock()
	t.info.LastActivity = time.Now()
	t.mu.Unlock()
	return nil
}

// --- Receiving ---

// HandleRawMessage is the single inbound entry point. Malformed frames and
// invalid envelopes become INVALID_REQUEST error notifications.
func (t *Transport) HandleRawMessage(data []byte) {
	t.messagesReceived.Add(1)
	t.bytesReceived.Add(int64(len(data)))
	t.touch()

	msg, err := protocol.Parse(data)
	if err != nil {
		t.reportError(err)
		return
	}
	if v := protocol.Validate(msg); !v.Valid {
		t.reportError(perrors.InvalidRequest("invalid envelope: "+v.Error(), perrors.WithDetail("id", msg.ID)))
		return
	}
	t.handleMessage(msg)
}

func (t *Transport) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeResponse:
		if t.settle(msg.RequestID, pendingResult{msg: msg}) {
			return
		}
	case protocol.TypeHeartbeat:
		if msg.Status == protocol.HeartbeatPing && t.IsConnected() {
			if err := t.SendMessage(context.Background(), t.factory.NewHeartbeat(protocol.HeartbeatPong)); err != nil {
				t.logger.Debug("pong failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	t.dispatch(msg)
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.info.LastActivity = time.Now()
	monitor, connID := t.monitor, t.info.ID
	t.mu.Unlock()
	if monitor != nil {
		monitor.Touch(connID)
	}
}

func (t *Transport) reportError(err error) {
	t.errorCount.Add(1)
	t.logger.Warn("inbound error", map[string]interface{}{"error": err.Error()})
	t.notify(Notification{Kind: NotifyError, State: t.State(), Err: err})
}

// --- Cleanup ---

// Cleanup cancels every timer, rejects pending requests with
// CONNECTION_LOST and removes all handlers.
func (t *Transport) Cleanup() {
	t.mu.Lock()
	t.stopReconnectLocked()
	t.handlers = make(map[protocol.MessageType][]*Subscription)
	t.mu.Unlock()

	t.failPending(perrors.ConnectionLost("transport cleaned up"))
}

// Close disconnects, cleans up and closes every Watch channel. The
// transport cannot be reused.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.Disconnect()
	t.Cleanup()

	t.watchMu.Lock()
	t.watchClosed = true
	for _, ch := range t.watchers {
		close(ch)
	}
	t.watchers = nil
	t.watchMu.Unlock()
	return err
}
