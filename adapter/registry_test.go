package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
)

type stubAdapter struct {
	name  string
	caps  []string
	delay time.Duration

	initErr     error
	disposeErr  error
	healthPanic bool

	initialized atomic.Int32
	disposed    atomic.Int32
	contracts   Contracts
}

func (s *stubAdapter) Name() string           { return s.name }
func (s *stubAdapter) Version() string        { return "1.0.0" }
func (s *stubAdapter) Capabilities() []string { return s.caps }
func (s *stubAdapter) Contracts() Contracts   { return s.contracts }

func (s *stubAdapter) Initialize(context.Context) error {
	time.Sleep(s.delay)
	s.initialized.Add(1)
	return s.initErr
}

func (s *stubAdapter) Dispose(context.Context) error {
	time.Sleep(s.delay)
	s.disposed.Add(1)
	return s.disposeErr
}

func (s *stubAdapter) HealthCheck(context.Context) Health {
	if s.healthPanic {
		panic("health check crashed")
	}
	return Health{Initialized: s.initialized.Load() > 0}
}

func newTestRegistry() *Registry {
	return NewRegistry(WithRegistryLogger(logging.Discard()))
}

// --- Unit Tests ---

func TestRegistry_FirstRegisteredIsActive(t *testing.T) {
	r := newTestRegistry()
	r.Register("vscode", &stubAdapter{name: "vscode"})
	r.Register("jetbrains", &stubAdapter{name: "jetbrains"})

	if r.ActiveID() != "vscode" {
		t.Errorf("ActiveID = %q, want vscode", r.ActiveID())
	}
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "vscode" || ids[1] != "jetbrains" {
		t.Errorf("IDs = %v", ids)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	first := &stubAdapter{name: "first"}
	if err := r.Register("vscode", first); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	err := r.Register("vscode", &stubAdapter{name: "second"})
	if !perrors.Is(err, perrors.ErrCodeAlreadyExists) {
		t.Fatalf("err = %v, want ALREADY_EXISTS", err)
	}

	got, _ := r.Get("vscode")
	if got != first {
		t.Error("duplicate registration replaced the original adapter")
	}
	if active, _ := r.Active(); active != first {
		t.Error("original adapter should remain active")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register("", &stubAdapter{}); !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("empty id err = %v", err)
	}
	if err := r.Register("x", nil); !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("nil adapter err = %v", err)
	}
}

func TestRegistry_UnregisterActiveReassigns(t *testing.T) {
	r := newTestRegistry()
	a := &stubAdapter{name: "a"}
	r.Register("a", a)
	r.Register("b", &stubAdapter{name: "b"})
	r.Register("c", &stubAdapter{name: "c"})

	if err := r.Unregister(context.Background(), "a"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	if a.disposed.Load() != 1 {
		t.Error("unregister should dispose the adapter")
	}
	if r.ActiveID() != "b" {
		t.Errorf("ActiveID = %q, want b", r.ActiveID())
	}

	r.Unregister(context.Background(), "b")
	r.Unregister(context.Background(), "c")
	if r.ActiveID() != "" {
		t.Errorf("ActiveID = %q, want none", r.ActiveID())
	}
	if _, ok := r.Active(); ok {
		t.Error("Active should report none on an empty registry")
	}
}

func TestRegistry_UnregisterInactiveKeepsActive(t *testing.T) {
	r := newTestRegistry()
	r.Register("a", &stubAdapter{})
	r.Register("b", &stubAdapter{})

	r.Unregister(context.Background(), "b")
	if r.ActiveID() != "a" {
		t.Errorf("ActiveID = %q, want a", r.ActiveID())
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := newTestRegistry()
	if err := r.Unregister(context.Background(), "ghost"); !perrors.Is(err, perrors.ErrCodeAdapterNotFound) {
		t.Errorf("err = %v, want ADAPTER_NOT_FOUND", err)
	}
}

func TestRegistry_UnregisterDisposeFailureStillRemoves(t *testing.T) {
	r := newTestRegistry()
	r.Register("a", &stubAdapter{disposeErr: errors.New("stuck")})

	if err := r.Unregister(context.Background(), "a"); err == nil {
		t.Error("dispose failure should be returned")
	}
	if _, ok := r.Get("a"); ok {
		t.Error("adapter should be removed despite dispose failure")
	}
}

func TestRegistry_SetActive(t *testing.T) {
	r := newTestRegistry()
	r.Register("a", &stubAdapter{})
	r.Register("b", &stubAdapter{})

	if err := r.SetActive("b"); err != nil {
		t.Fatalf("SetActive error: %v", err)
	}
	if r.ActiveID() != "b" {
		t.Errorf("ActiveID = %q", r.ActiveID())
	}
	if err := r.SetActive("zed"); !perrors.Is(err, perrors.ErrCodeAdapterNotFound) {
		t.Errorf("SetActive(unknown) = %v", err)
	}
}

func TestRegistry_GetByCapability(t *testing.T) {
	r := newTestRegistry()
	r.Register("a", &stubAdapter{caps: []string{"READ_FILE"}})
	r.Register("b", &stubAdapter{caps: []string{"GET_CONTEXT"}})
	r.Register("c", &stubAdapter{caps: []string{"GET_CONTEXT", "READ_FILE"}})

	got := r.GetByCapability("READ_FILE")
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("GetByCapability = %v, want [a c]", got)
	}
	if got := r.GetByCapability("AUTHENTICATE"); len(got) != 0 {
		t.Errorf("GetByCapability(AUTHENTICATE) = %v", got)
	}

	caps := r.Capabilities()
	if len(caps) != 2 || caps[0] != "READ_FILE" || caps[1] != "GET_CONTEXT" {
		t.Errorf("Capabilities = %v", caps)
	}
}

// --- Lifecycle ---

func TestRegistry_InitializeAllRunsInParallel(t *testing.T) {
	r := newTestRegistry()
	stubs := make([]*stubAdapter, 4)
	for i := range stubs {
		stubs[i] = &stubAdapter{delay: 50 * time.Millisecond}
		r.Register(string(rune('a'+i)), stubs[i])
	}

	start := time.Now()
	if err := r.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("InitializeAll took %v, expected parallel execution", elapsed)
	}
	for i, s := range stubs {
		if s.initialized.Load() != 1 {
			t.Errorf("adapter %d initialized %d times", i, s.initialized.Load())
		}
	}
}

func TestRegistry_InitializeAllJoinsFailures(t *testing.T) {
	r := newTestRegistry()
	good := &stubAdapter{}
	r.Register("good", good)
	r.Register("bad", &stubAdapter{initErr: perrors.ConnectionFailed("editor not running")})

	err := r.InitializeAll(context.Background())
	if !perrors.Is(err, perrors.ErrCodeConnectionFailed) {
		t.Errorf("err = %v, want CONNECTION_FAILED", err)
	}
	if good.initialized.Load() != 1 {
		t.Error("healthy adapter should still be initialized")
	}
}

func TestRegistry_DisposeAllKeepsRegistrations(t *testing.T) {
	r := newTestRegistry()
	a := &stubAdapter{}
	r.Register("a", a)

	if err := r.DisposeAll(context.Background()); err != nil {
		t.Fatalf("DisposeAll error: %v", err)
	}
	if a.disposed.Load() != 1 {
		t.Error("adapter not disposed")
	}
	if r.Len() != 1 {
		t.Error("DisposeAll should not unregister")
	}
}

func TestRegistry_HealthCheckAllIsolatesPanics(t *testing.T) {
	r := newTestRegistry()
	r.Register("ok", &stubAdapter{})
	r.Register("crashy", &stubAdapter{healthPanic: true})
	r.InitializeAll(context.Background())

	results := r.HealthCheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if !results["ok"].Healthy() {
		t.Errorf("ok adapter health = %+v", results["ok"])
	}
	if results["crashy"].Healthy() || results["crashy"].Error == "" {
		t.Errorf("crashy adapter health = %+v", results["crashy"])
	}
}

// --- Watching ---

func TestRegistry_Watch(t *testing.T) {
	r := newTestRegistry()
	events := r.Watch()

	r.Register("a", &stubAdapter{})
	r.Register("b", &stubAdapter{})
	r.Unregister(context.Background(), "a")

	want := []Event{
		{EventAdded, "a"},
		{EventActivated, "a"},
		{EventAdded, "b"},
		{EventRemoved, "a"},
		{EventActivated, "b"},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}

	r.Close()
	if _, ok := <-events; ok {
		t.Error("watch channel should close with the registry")
	}
	if err := r.Register("c", &stubAdapter{}); err == nil {
		t.Error("Register after Close should fail")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i))
			r.Register(id, &stubAdapter{caps: []string{string(protocol.OpPing)}})
			r.GetByCapability(string(protocol.OpPing))
			r.ActiveID()
		}(i)
	}
	wg.Wait()

	if r.Len() != 20 {
		t.Errorf("Len = %d, want 20", r.Len())
	}
	if r.ActiveID() == "" {
		t.Error("an adapter should be active")
	}
}

func TestRegistry_ResolvePairsActiveIDWithAdapter(t *testing.T) {
	r := newTestRegistry()
	ping := []string{string(protocol.OpPing)}
	a := &stubAdapter{name: "a", caps: ping}
	b := &stubAdapter{name: "b", caps: ping}
	r.Register("a", a)
	r.Register("b", b)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				r.SetActive("a")
			} else {
				r.SetActive("b")
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		id, got, err := Resolve(r, protocol.OpPing)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got.Name() != id {
			close(stop)
			wg.Wait()
			t.Fatalf("Resolve returned id %q with adapter %q", id, got.Name())
		}
	}
	close(stop)
	wg.Wait()

	id, got, ok := r.ActiveEntry()
	if !ok || got.Name() != id {
		t.Errorf("ActiveEntry = (%q, %v, %v)", id, got, ok)
	}
}
