package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
)

// fakeStrategy records sent envelopes and lets tests inject inbound data.
type fakeStrategy struct {
	persistent bool

	mu         sync.Mutex
	sink       Sink
	connectErr error
	connects   int
	sent       []*protocol.Message
	onSend     func(msg *protocol.Message)
}

func (f *fakeStrategy) Name() string     { return "fake" }
func (f *fakeStrategy) Endpoint() string { return "fake://bridge" }
func (f *fakeStrategy) Persistent() bool { return f.persistent }

func (f *fakeStrategy) Connect(_ context.Context, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.sink = sink
	return nil
}

func (f *fakeStrategy) Disconnect() error { return nil }

func (f *fakeStrategy) SendRaw(_ context.Context, _ *protocol.Message, data []byte) error {
	var m protocol.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, &m)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(&m)
	}
	return nil
}

func (f *fakeStrategy) setConnectErr(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *fakeStrategy) sentMessages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.sent...)
}

func (f *fakeStrategy) inject(t *testing.T, m *protocol.Message) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.HandleRawMessage(data)
}

func newTestTransport(t *testing.T, s *fakeStrategy, cfg Config) *Transport {
	t.Helper()
	tr := New(s, cfg, WithLogger(logging.Discard()))
	t.Cleanup(func() { tr.Close() })
	return tr
}

func connected(t *testing.T, s *fakeStrategy, cfg Config) *Transport {
	t.Helper()
	tr := newTestTransport(t, s, cfg)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	return tr
}

func respond(requestID string, result protocol.Result) *protocol.Message {
	m, _ := protocol.NewFactory(protocol.WithIDPrefix("resp")).NewResponse(requestID, result)
	return m
}

func waitFor(t *testing.T, ch <-chan Notification, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("watch channel closed waiting for %s", kind)
			}
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

// collectUntil returns every notification up to and including the first
// one of kind.
func collectUntil(t *testing.T, ch <-chan Notification, kind NotificationKind) []Notification {
	t.Helper()
	var seen []Notification
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("watch channel closed waiting for %s", kind)
			}
			seen = append(seen, n)
			if n.Kind == kind {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification, saw %d", kind, len(seen))
		}
	}
}

// --- Unit Tests ---

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
}

func TestSend_NotConnectedFailsImmediately(t *testing.T) {
	tr := newTestTransport(t, &fakeStrategy{}, DefaultConfig())

	start := time.Now()
	_, err := tr.Request(context.Background(), protocol.OpPing, protocol.Empty{})
	if !perrors.Is(err, perrors.ErrCodeConnectionFailed) {
		t.Fatalf("err = %v, want CONNECTION_FAILED", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("not-connected send should fail without waiting")
	}
}

func TestSend_ResolvesWithResponse(t *testing.T) {
	s := &fakeStrategy{}
	s.onSend = func(m *protocol.Message) {
		if m.Type != protocol.TypeRequest {
			return
		}
		go s.inject(t, respond(m.ID, protocol.Success(protocol.PingResponse{Pong: true, Time: 7})))
	}
	tr := connected(t, s, DefaultConfig())

	got, err := protocol.Call(context.Background(), tr, protocol.Ping, protocol.Empty{}, protocol.RequestOptions{})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if !got.Pong || got.Time != 7 {
		t.Errorf("response = %+v", got)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", tr.PendingCount())
	}
}

func TestSend_FailedResponseCarriesError(t *testing.T) {
	s := &fakeStrategy{}
	s.onSend = func(m *protocol.Message) {
		go s.inject(t, respond(m.ID, protocol.Failure(perrors.FromCode(perrors.ErrCodeFileNotFound))))
	}
	tr := connected(t, s, DefaultConfig())

	_, err := tr.Request(context.Background(), protocol.OpReadFile, protocol.ReadFileRequest{Path: "x"})
	if !perrors.Is(err, perrors.ErrCodeFileNotFound) {
		t.Errorf("err = %v, want FILE_NOT_FOUND", err)
	}
}

func TestSend_TimesOut(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())

	msg, _ := tr.Factory().NewRequest(protocol.OpPing, protocol.Empty{}, protocol.RequestOptions{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := tr.Send(context.Background(), msg)
	elapsed := time.Since(start)

	if !perrors.Is(err, perrors.ErrCodeConnectionTimeout) {
		t.Fatalf("err = %v, want CONNECTION_TIMEOUT", err)
	}
	if !strings.Contains(err.Error(), "100ms") {
		t.Errorf("error should name the bound, got %q", err.Error())
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the bound", elapsed)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", tr.PendingCount())
	}

	// A late response is not an error and does not resurrect the request.
	var late sync.WaitGroup
	late.Add(1)
	tr.Subscribe(protocol.TypeResponse, func(_ context.Context, m *protocol.Message) error {
		if m.RequestID == msg.ID {
			late.Done()
		}
		return nil
	})
	s.inject(t, respond(msg.ID, protocol.Success(protocol.PingResponse{Pong: true})))
	late.Wait()
}

func TestSend_OutOfOrderResponses(t *testing.T) {
	s := &fakeStrategy{}
	var mu sync.Mutex
	var ids []string
	s.onSend = func(m *protocol.Message) {
		mu.Lock()
		ids = append(ids, m.ID)
		if len(ids) == 2 {
			second, first := ids[1], ids[0]
			go func() {
				s.inject(t, respond(second, protocol.Success(protocol.WorkspaceInfo{Name: second})))
				s.inject(t, respond(first, protocol.Success(protocol.WorkspaceInfo{Name: first})))
			}()
		}
		mu.Unlock()
	}
	tr := connected(t, s, DefaultConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, _ := tr.Factory().NewRequest(protocol.OpGetWorkspaceInfo, protocol.Empty{}, protocol.RequestOptions{})
			resp, err := tr.Send(context.Background(), msg)
			if err != nil {
				errs <- err
				return
			}
			var info protocol.WorkspaceInfo
			resp.DecodePayload(&info)
			if info.Name != msg.ID {
				errs <- errors.New("response matched to wrong request: " + info.Name + " vs " + msg.ID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSend_ContextCancelRemovesPending(t *testing.T) {
	tr := connected(t, &fakeStrategy{}, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Request(ctx, protocol.OpPing, protocol.Empty{})
	if !perrors.Is(err, perrors.ErrCodeConnectionTimeout) {
		t.Errorf("err = %v, want CONNECTION_TIMEOUT for deadline", err)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", tr.PendingCount())
	}
}

func TestCleanup_RejectsPendingWithConnectionLost(t *testing.T) {
	s := &fakeStrategy{}
	sent := make(chan struct{}, 3)
	s.onSend = func(*protocol.Message) { sent <- struct{}{} }
	tr := connected(t, s, DefaultConfig())

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := tr.Request(context.Background(), protocol.OpPing, protocol.Empty{})
			errs <- err
		}()
	}
	for i := 0; i < 3; i++ {
		<-sent
	}

	tr.Cleanup()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !perrors.Is(err, perrors.ErrCodeConnectionLost) {
				t.Errorf("err = %v, want CONNECTION_LOST", err)
			}
		case <-time.After(time.Second):
			t.Fatal("pending request not rejected")
		}
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d", tr.PendingCount())
	}
}

func TestEmit(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())

	if err := tr.Emit(context.Background(), "file.saved", map[string]string{"path": "a.go"}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	sent := s.sentMessages()
	if len(sent) != 1 || sent[0].Type != protocol.TypeEvent || sent[0].Event != "file.saved" {
		t.Errorf("sent = %+v", sent)
	}
	if st := tr.Stats(); st.MessagesSent != 1 || st.BytesSent == 0 {
		t.Errorf("Stats = %+v", st)
	}
}

// --- Handlers ---

func TestHandlers_OrderAndIsolation(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())
	watch := tr.Watch()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	tr.Subscribe(protocol.TypeEvent, func(context.Context, *protocol.Message) error {
		record("first")
		panic("handler exploded")
	})
	tr.Subscribe(protocol.TypeEvent, func(context.Context, *protocol.Message) error {
		record("second")
		return errors.New("handler failed")
	})
	tr.Subscribe(protocol.TypeEvent, func(context.Context, *protocol.Message) error {
		record("third")
		return nil
	})

	ev, _ := protocol.NewFactory().NewEvent("selection.changed", nil)
	s.inject(t, ev)

	mu.Lock()
	got := strings.Join(order, ",")
	mu.Unlock()
	if got != "first,second,third" {
		t.Errorf("order = %s", got)
	}

	n := waitFor(t, watch, NotifyError)
	if !perrors.Is(n.Err, perrors.ErrCodeInternal) || !strings.Contains(n.Err.Error(), "handler exploded") {
		t.Errorf("panic notification = %v", n.Err)
	}
	n = waitFor(t, watch, NotifyError)
	if !strings.Contains(n.Err.Error(), "handler failed") {
		t.Errorf("error notification = %v", n.Err)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())

	calls := 0
	sub := tr.Subscribe(protocol.TypeEvent, func(context.Context, *protocol.Message) error {
		calls++
		return nil
	})
	ev, _ := protocol.NewFactory().NewEvent("x", nil)
	s.inject(t, ev)
	sub.Unsubscribe()
	sub.Unsubscribe()
	s.inject(t, ev)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if tr.HandlerCount(protocol.TypeEvent) != 0 {
		t.Error("handler should be removed")
	}
}

func TestHandleRawMessage_InvalidInput(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())
	watch := tr.Watch()

	called := false
	tr.Subscribe(protocol.TypeEvent, func(context.Context, *protocol.Message) error {
		called = true
		return nil
	})

	tr.HandleRawMessage([]byte("{not json"))
	n := waitFor(t, watch, NotifyError)
	if !perrors.Is(n.Err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", n.Err)
	}

	tr.HandleRawMessage([]byte(`{"id":"e1","type":"event","timestamp":1,"priority":"normal","version":"1.0.0"}`))
	n = waitFor(t, watch, NotifyError)
	if !perrors.Is(n.Err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", n.Err)
	}
	if called {
		t.Error("invalid envelopes must not reach handlers")
	}
	if tr.Stats().MessagesReceived != 2 {
		t.Errorf("MessagesReceived = %d", tr.Stats().MessagesReceived)
	}
}

func TestHeartbeatPingIsAnswered(t *testing.T) {
	s := &fakeStrategy{}
	tr := connected(t, s, DefaultConfig())
	_ = tr

	s.inject(t, protocol.NewFactory().NewHeartbeat(protocol.HeartbeatPing))

	sent := s.sentMessages()
	if len(sent) != 1 || sent[0].Type != protocol.TypeHeartbeat || sent[0].Status != protocol.HeartbeatPong {
		t.Errorf("sent = %+v, want one pong", sent)
	}
}

// --- Lifecycle ---

func TestConnect_FailureThenRetry(t *testing.T) {
	s := &fakeStrategy{}
	s.setConnectErr(perrors.ConnectionFailed("refused"))
	tr := newTestTransport(t, s, DefaultConfig())
	watch := tr.Watch()

	if err := tr.Connect(context.Background()); !perrors.Is(err, perrors.ErrCodeConnectionFailed) {
		t.Fatalf("err = %v", err)
	}
	if tr.State() != StateFailed {
		t.Errorf("State = %v, want FAILED", tr.State())
	}
	waitFor(t, watch, NotifyConnecting)
	waitFor(t, watch, NotifyError)

	s.setConnectErr(nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	waitFor(t, watch, NotifyConnected)
	if info := tr.Info(); info.State != StateConnected || info.ConnectedAt.IsZero() {
		t.Errorf("Info = %+v", info)
	}
}

func TestHTTPLikeStrategyDoesNotReconnect(t *testing.T) {
	s := &fakeStrategy{}
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 5 * time.Millisecond
	tr := connected(t, s, cfg)

	tr.LinkLost(errors.New("gone"))
	time.Sleep(30 * time.Millisecond)

	if tr.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", tr.State())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connects != 1 {
		t.Errorf("connects = %d, want 1", s.connects)
	}
}

func TestReconnect_AfterLinkLoss(t *testing.T) {
	s := &fakeStrategy{persistent: true}
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	tr := connected(t, s, cfg)
	watch := tr.Watch()

	if tr.State() != StateConnected {
		t.Fatalf("State = %v, want CONNECTED", tr.State())
	}
	tr.LinkLost(errors.New("socket closed"))

	seen := collectUntil(t, watch, NotifyConnected)
	var kinds, states []string
	for _, n := range seen {
		kinds = append(kinds, string(n.Kind))
		states = append(states, string(n.State))
	}
	if got, want := strings.Join(kinds, ","), "disconnected,reconnecting,connecting,connected"; got != want {
		t.Errorf("notifications = %s, want %s", got, want)
	}
	wantStates := []string{string(StateDisconnected), string(StateReconnecting), string(StateConnecting), string(StateConnected)}
	if strings.Join(states, ",") != strings.Join(wantStates, ",") {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
	if !perrors.Is(seen[0].Err, perrors.ErrCodeConnectionLost) {
		t.Errorf("disconnected err = %v", seen[0].Err)
	}
	if seen[1].Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", seen[1].Attempt)
	}

	if tr.Info().ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want reset to 0", tr.Info().ReconnectAttempts)
	}
	if tr.Stats().Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", tr.Stats().Reconnects)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	s := &fakeStrategy{persistent: true}
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectAttempts = 2
	tr := connected(t, s, cfg)
	watch := tr.Watch()

	s.setConnectErr(perrors.ConnectionFailed("refused"))
	tr.LinkLost(errors.New("socket closed"))

	n := waitFor(t, watch, NotifyReconnectExhausted)
	if n.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", n.Attempt)
	}
	if tr.State() != StateFailed {
		t.Errorf("State = %v, want FAILED", tr.State())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connects != 3 {
		t.Errorf("connects = %d, want 1 initial + 2 retries", s.connects)
	}
}

func TestDisconnect_CancelsScheduledReconnect(t *testing.T) {
	s := &fakeStrategy{persistent: true}
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 30 * time.Millisecond
	tr := connected(t, s, cfg)

	tr.LinkLost(errors.New("socket closed"))
	tr.Disconnect()
	time.Sleep(60 * time.Millisecond)

	if tr.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", tr.State())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connects != 1 {
		t.Errorf("connects = %d, want 1", s.connects)
	}
}

func TestKeepAlive_SendsPings(t *testing.T) {
	s := &fakeStrategy{persistent: true}
	cfg := DefaultConfig()
	cfg.KeepAlive = true
	cfg.KeepAliveInterval = 10 * time.Millisecond
	connected(t, s, cfg)

	time.Sleep(45 * time.Millisecond)

	pings := 0
	for _, m := range s.sentMessages() {
		if m.Type == protocol.TypeHeartbeat && m.Status == protocol.HeartbeatPing {
			pings++
		}
	}
	if pings < 2 {
		t.Errorf("pings = %d, want at least 2", pings)
	}
}

func TestKeepAlive_SilenceForcesLinkLoss(t *testing.T) {
	s := &fakeStrategy{persistent: true}
	cfg := DefaultConfig()
	cfg.KeepAlive = true
	cfg.KeepAliveInterval = time.Hour
	cfg.KeepAliveTimeout = 30 * time.Millisecond
	cfg.MaxReconnectAttempts = 0
	tr := connected(t, s, cfg)
	watch := tr.Watch()

	n := waitFor(t, watch, NotifyDisconnected)
	if !perrors.Is(n.Err, perrors.ErrCodeConnectionLost) {
		t.Errorf("err = %v", n.Err)
	}
}

func TestClose_ClosesWatchers(t *testing.T) {
	tr := New(&fakeStrategy{}, DefaultConfig(), WithLogger(logging.Discard()))
	watch := tr.Watch()
	tr.Close()

	for range watch {
	}
	if err := tr.Connect(context.Background()); !perrors.Is(err, perrors.ErrCodeConnectionFailed) {
		t.Errorf("Connect after Close = %v", err)
	}
	if _, ok := <-tr.Watch(); ok {
		t.Error("Watch after Close should return a closed channel")
	}
}
