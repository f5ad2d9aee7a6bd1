package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
)

type fakeLink struct {
	connectErr error
	connected  bool
	calls      *[]string
}

func (l *fakeLink) Connect(context.Context) error {
	*l.calls = append(*l.calls, "connect")
	if l.connectErr != nil {
		return l.connectErr
	}
	l.connected = true
	return nil
}

func (l *fakeLink) Disconnect() error {
	*l.calls = append(*l.calls, "disconnect")
	l.connected = false
	return nil
}

func (l *fakeLink) IsConnected() bool { return l.connected }

type workspaceStub struct {
	closed *int
}

func (w workspaceStub) GetWorkspaceInfo(context.Context) (*protocol.WorkspaceInfo, error) {
	return &protocol.WorkspaceInfo{Name: "demo", Editor: "stub"}, nil
}

func (w workspaceStub) Close() error {
	*w.closed++
	return nil
}

func recordingConfig(calls *[]string, closed *int) BaseConfig {
	return BaseConfig{
		Name:     "stub",
		Version:  "0.1.0",
		Features: Features{Workspace: true},
		Factories: Factories{
			Workspace: func(context.Context) (WorkspaceContract, error) {
				*calls = append(*calls, "build")
				return workspaceStub{closed: closed}, nil
			},
		},
		Transport: &fakeLink{calls: calls},
		Hooks: Hooks{
			OnInitialize: func(context.Context) error {
				*calls = append(*calls, "init-hook")
				return nil
			},
			OnDispose: func(context.Context) error {
				*calls = append(*calls, "dispose-hook")
				return nil
			},
		},
		Logger: logging.Discard(),
	}
}

// folderWorkspace has value receivers over a slice, so it is not comparable.
type folderWorkspace struct {
	folders []string
	closed  *int
}

func (w folderWorkspace) GetWorkspaceInfo(context.Context) (*protocol.WorkspaceInfo, error) {
	return &protocol.WorkspaceInfo{Name: "demo", Folders: w.folders}, nil
}

func (w folderWorkspace) Close() error {
	*w.closed++
	return nil
}

// sharedContract serves both file and workspace contracts from one value.
type sharedContract struct {
	fileStub
	closed int
}

func (s *sharedContract) GetWorkspaceInfo(context.Context) (*protocol.WorkspaceInfo, error) {
	return &protocol.WorkspaceInfo{Name: "shared"}, nil
}

func (s *sharedContract) Close() error {
	s.closed++
	return nil
}

// --- Unit Tests ---

func TestBaseAdapter_LifecycleOrder(t *testing.T) {
	var calls []string
	closed := 0
	b := NewBaseAdapter(recordingConfig(&calls, &closed))

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if got := strings.Join(calls, ","); got != "build,connect,init-hook" {
		t.Errorf("initialize order = %s", got)
	}
	if b.Contracts().Workspace == nil {
		t.Error("workspace contract not built")
	}
	if b.Contracts().File != nil {
		t.Error("disabled file contract should not be built")
	}

	calls = nil
	if err := b.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose error: %v", err)
	}
	if got := strings.Join(calls, ","); got != "dispose-hook,disconnect" {
		t.Errorf("dispose order = %s", got)
	}
	if closed != 1 {
		t.Errorf("contract closed %d times, want 1", closed)
	}
	if b.Contracts().Workspace != nil {
		t.Error("contracts should be released on dispose")
	}
}

func TestBaseAdapter_InitializeIsIdempotent(t *testing.T) {
	var calls []string
	closed := 0
	b := NewBaseAdapter(recordingConfig(&calls, &closed))

	b.Initialize(context.Background())
	b.Initialize(context.Background())
	if len(calls) != 3 {
		t.Errorf("calls = %v, want one initialization", calls)
	}

	// Disposing twice only tears down once.
	b.Dispose(context.Background())
	b.Dispose(context.Background())
	if closed != 1 {
		t.Errorf("closed = %d", closed)
	}
}

func TestBaseAdapter_TransportFailureRollsBack(t *testing.T) {
	var calls []string
	closed := 0
	cfg := recordingConfig(&calls, &closed)
	cfg.Transport = &fakeLink{calls: &calls, connectErr: perrors.ConnectionFailed("refused")}
	b := NewBaseAdapter(cfg)

	err := b.Initialize(context.Background())
	if !perrors.Is(err, perrors.ErrCodeConnectionFailed) {
		t.Fatalf("err = %v, want CONNECTION_FAILED", err)
	}
	if closed != 1 {
		t.Error("built contract should be released")
	}
	if b.HealthCheck(context.Background()).Initialized {
		t.Error("adapter should not be initialized")
	}
}

func TestBaseAdapter_HookFailureRollsBack(t *testing.T) {
	var calls []string
	closed := 0
	cfg := recordingConfig(&calls, &closed)
	cfg.Hooks.OnInitialize = func(context.Context) error { return errors.New("editor refused") }
	b := NewBaseAdapter(cfg)

	if err := b.Initialize(context.Background()); err == nil {
		t.Fatal("expected hook error")
	}
	if got := strings.Join(calls, ","); got != "build,connect,disconnect" {
		t.Errorf("calls = %s", got)
	}
	if b.Contracts().Workspace != nil {
		t.Error("contracts should be cleared")
	}
}

func TestBaseAdapter_EnabledFeatureNeedsFactory(t *testing.T) {
	b := NewBaseAdapter(BaseConfig{
		Name:     "broken",
		Features: Features{Auth: true},
		Logger:   logging.Discard(),
	})
	if err := b.Initialize(context.Background()); !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestBaseAdapter_HealthCheck(t *testing.T) {
	var calls []string
	closed := 0
	b := NewBaseAdapter(recordingConfig(&calls, &closed))

	h := b.HealthCheck(context.Background())
	if h.Initialized || h.TransportConnected == nil || *h.TransportConnected {
		t.Errorf("before init = %+v", h)
	}

	b.Initialize(context.Background())
	h = b.HealthCheck(context.Background())
	if !h.Healthy() {
		t.Errorf("after init = %+v", h)
	}

	noTransport := NewBaseAdapter(BaseConfig{Name: "bare", Logger: logging.Discard()})
	if h := noTransport.HealthCheck(context.Background()); h.TransportConnected != nil {
		t.Error("TransportConnected should be nil without a transport")
	}
}

func TestBaseAdapter_DefaultCapabilities(t *testing.T) {
	b := NewBaseAdapter(BaseConfig{
		Name:     "fs",
		Features: Features{File: true, Workspace: true},
		Logger:   logging.Discard(),
	})
	want := []string{"READ_FILE", "WRITE_FILE", "LIST_FILES", "GET_FILE_TREE", "GET_WORKSPACE_INFO"}
	if got := b.Capabilities(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Capabilities = %v, want %v", got, want)
	}

	explicit := NewBaseAdapter(BaseConfig{Name: "x", Capabilities: []string{"PING"}, Logger: logging.Discard()})
	if got := explicit.Capabilities(); len(got) != 1 || got[0] != "PING" {
		t.Errorf("explicit Capabilities = %v", got)
	}
}

func TestBaseAdapter_DisposeUncomparableContract(t *testing.T) {
	closed := 0
	b := NewBaseAdapter(BaseConfig{
		Name:     "folders",
		Features: Features{Workspace: true},
		Factories: Factories{
			Workspace: func(context.Context) (WorkspaceContract, error) {
				return folderWorkspace{folders: []string{"/src"}, closed: &closed}, nil
			},
		},
		Logger: logging.Discard(),
	})
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := b.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose error: %v", err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
}

func TestBaseAdapter_SharedContractClosedOnce(t *testing.T) {
	shared := &sharedContract{}
	b := NewBaseAdapter(BaseConfig{
		Name:     "shared",
		Features: Features{File: true, Workspace: true},
		Factories: Factories{
			File:      func(context.Context) (FileContract, error) { return shared, nil },
			Workspace: func(context.Context) (WorkspaceContract, error) { return shared, nil },
		},
		Logger: logging.Discard(),
	})
	b.Initialize(context.Background())
	if err := b.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose error: %v", err)
	}
	if shared.closed != 1 {
		t.Errorf("closed = %d, want 1", shared.closed)
	}
}
