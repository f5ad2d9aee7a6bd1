package adapter

import (
	"context"
	"io"
	"reflect"
	"sync"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
)

// Features selects which contracts a BaseAdapter builds.
type Features struct {
	Context   bool
	File      bool
	Workspace bool
	Auth      bool
}

// Factories build contracts on Initialize. A factory is required for every
// enabled feature.
type Factories struct {
	Context   func(ctx context.Context) (ContextContract, error)
	File      func(ctx context.Context) (FileContract, error)
	Workspace func(ctx context.Context) (WorkspaceContract, error)
	Auth      func(ctx context.Context) (AuthContract, error)
}

// Hooks run at the end of Initialize and at the start of Dispose.
type Hooks struct {
	OnInitialize func(ctx context.Context) error
	OnDispose    func(ctx context.Context) error
}

// Link is the transport an adapter may own. *transport.Transport satisfies
// it.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// BaseConfig configures a BaseAdapter.
type BaseConfig struct {
	Name    string
	Version string

	// Capabilities declared by the adapter. Default: every operation of the
	// enabled features.
	Capabilities []string

	Features  Features
	Factories Factories

	// Transport is optional. It is connected on Initialize and disconnected
	// on Dispose.
	Transport Link

	Hooks  Hooks
	Logger *logging.Logger
}

// BaseAdapter implements the Adapter lifecycle around contract factories.
type BaseAdapter struct {
	cfg    BaseConfig
	caps   []string
	logger *logging.Logger

	mu          sync.Mutex
	initialized bool
	contracts   Contracts
}

// NewBaseAdapter creates an uninitialized adapter.
func NewBaseAdapter(cfg BaseConfig) *BaseAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}
	caps := append([]string(nil), cfg.Capabilities...)
	if len(caps) == 0 {
		caps = featureCapabilities(cfg.Features)
	}
	return &BaseAdapter{
		cfg:    cfg,
		caps:   caps,
		logger: logger.WithComponent("adapter." + cfg.Name),
	}
}

func featureCapabilities(f Features) []string {
	var caps []string
	add := func(enabled bool, kind protocol.ContractKind) {
		if !enabled {
			return
		}
		for _, op := range protocol.OperationsFor(kind) {
			caps = append(caps, string(op))
		}
	}
	add(f.Context, protocol.ContractContext)
	add(f.File, protocol.ContractFile)
	add(f.Workspace, protocol.ContractWorkspace)
	add(f.Auth, protocol.ContractAuth)
	return caps
}

func (b *BaseAdapter) Name() string    { return b.cfg.Name }
func (b *BaseAdapter) Version() string { return b.cfg.Version }

// Capabilities returns a copy of the declared capabilities.
func (b *BaseAdapter) Capabilities() []string {
	return append([]string(nil), b.caps...)
}

// Initialize builds the enabled contracts, connects the transport and runs
// Hooks.OnInitialize. On failure everything done so far is undone. Calling
// it again after success does nothing.
func (b *BaseAdapter) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	contracts, err := b.buildContracts(ctx)
	if err != nil {
		closeContracts(contracts)
		return err
	}

	if b.cfg.Transport != nil {
		if err := b.cfg.Transport.Connect(ctx); err != nil {
			closeContracts(contracts)
			return perrors.Wrap(err, "connecting adapter transport", perrors.WithDetail("adapter", b.cfg.Name))
		}
	}

	b.contracts = contracts
	if hook := b.cfg.Hooks.OnInitialize; hook != nil {
		if err := hook(ctx); err != nil {
			b.contracts = Contracts{}
			if b.cfg.Transport != nil {
				b.cfg.Transport.Disconnect()
			}
			closeContracts(contracts)
			return perrors.Wrap(err, "initialize hook", perrors.WithDetail("adapter", b.cfg.Name))
		}
	}

	b.initialized = true
	b.logger.Debug("initialized", map[string]interface{}{"capabilities": len(b.caps)})
	return nil
}

// buildContracts returns whatever it managed to build, even on error, so the
// caller can release it.
func (b *BaseAdapter) buildContracts(ctx context.Context) (Contracts, error) {
	var c Contracts
	f, fac := b.cfg.Features, b.cfg.Factories

	if f.Context {
		if fac.Context == nil {
			return c, missingFactory(b.cfg.Name, protocol.ContractContext)
		}
		contract, err := fac.Context(ctx)
		if err != nil {
			return c, perrors.Wrap(err, "building context contract")
		}
		c.Context = contract
	}
	if f.File {
		if fac.File == nil {
			return c, missingFactory(b.cfg.Name, protocol.ContractFile)
		}
		contract, err := fac.File(ctx)
		if err != nil {
			return c, perrors.Wrap(err, "building file contract")
		}
		c.File = contract
	}
	if f.Workspace {
		if fac.Workspace == nil {
			return c, missingFactory(b.cfg.Name, protocol.ContractWorkspace)
		}
		contract, err := fac.Workspace(ctx)
		if err != nil {
			return c, perrors.Wrap(err, "building workspace contract")
		}
		c.Workspace = contract
	}
	if f.Auth {
		if fac.Auth == nil {
			return c, missingFactory(b.cfg.Name, protocol.ContractAuth)
		}
		contract, err := fac.Auth(ctx)
		if err != nil {
			return c, perrors.Wrap(err, "building auth contract")
		}
		c.Auth = contract
	}
	return c, nil
}

func missingFactory(adapter string, kind protocol.ContractKind) error {
	return perrors.InvalidRequest("feature "+string(kind)+" is enabled without a factory",
		perrors.WithDetail("adapter", adapter))
}

// Dispose runs Hooks.OnDispose, disconnects the transport and releases the
// contracts. Every step runs even if an earlier one fails; failures are
// joined. Disposing an uninitialized adapter does nothing.
func (b *BaseAdapter) Dispose(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}

	var errs []error
	if hook := b.cfg.Hooks.OnDispose; hook != nil {
		if err := hook(ctx); err != nil {
			errs = append(errs, perrors.Wrap(err, "dispose hook", perrors.WithDetail("adapter", b.cfg.Name)))
		}
	}
	if b.cfg.Transport != nil {
		if err := b.cfg.Transport.Disconnect(); err != nil {
			errs = append(errs, perrors.Wrap(err, "disconnecting adapter transport"))
		}
	}
	errs = append(errs, closeContracts(b.contracts))

	b.contracts = Contracts{}
	b.initialized = false
	b.logger.Debug("disposed")
	return perrors.Join(errs...)
}

// closeContracts closes every contract that is an io.Closer, once each. One
// value serving several contracts is closed once; values that cannot be
// compared are closed per slot.
func closeContracts(c Contracts) error {
	var (
		errs   []error
		closed []io.Closer
	)
	for _, contract := range []interface{}{c.Context, c.File, c.Workspace, c.Auth} {
		closer, ok := contract.(io.Closer)
		if !ok || containsCloser(closed, closer) {
			continue
		}
		closed = append(closed, closer)
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return perrors.Join(errs...)
}

func containsCloser(list []io.Closer, c io.Closer) bool {
	if !reflect.ValueOf(c).Comparable() {
		return false
	}
	for _, other := range list {
		if reflect.TypeOf(other) == reflect.TypeOf(c) && other == c {
			return true
		}
	}
	return false
}

// HealthCheck reports initialization and transport state.
func (b *BaseAdapter) HealthCheck(context.Context) Health {
	b.mu.Lock()
	h := Health{Initialized: b.initialized}
	b.mu.Unlock()

	if b.cfg.Transport != nil {
		connected := b.cfg.Transport.IsConnected()
		h.TransportConnected = &connected
	}
	return h
}

// Contracts returns the contracts built by Initialize.
func (b *BaseAdapter) Contracts() Contracts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contracts
}
