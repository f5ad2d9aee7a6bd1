package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/editorbridge/adapter"
	"github.com/vinayprograms/editorbridge/bus"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/heartbeat"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/telemetry"
	"github.com/vinayprograms/editorbridge/transport"
)

// Config configures the bridge server.
type Config struct {
	// Addr to listen on.
	// Default: "127.0.0.1:7420"
	Addr string

	// Name reported in /health and handshake replies.
	// Default: "editorbridge"
	Name string

	// AllowedOrigins restricts WebSocket upgrades. Empty allows all.
	AllowedOrigins []string

	// Subject events are published and consumed on.
	// Default: bus.DefaultSubject
	Subject string

	// RequestTimeout bounds dispatch of requests without their own timeout.
	// Default: protocol.DefaultRequestTimeout
	RequestTimeout time.Duration

	// IdleTimeout closes WebSocket sessions silent for this long with a
	// disconnect (code 4002).
	// Default: 90s
	IdleTimeout time.Duration

	// WriteTimeout bounds each WebSocket frame write.
	// Default: 10s
	WriteTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7420",
		Name:           "editorbridge",
		Subject:        bus.DefaultSubject,
		RequestTimeout: protocol.DefaultRequestTimeout,
		IdleTimeout:    90 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l.WithComponent("server")
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithBus sets the event bus. The server does not close a bus it was given.
func WithBus(b bus.Bus) Option {
	return func(s *Server) {
		s.bus = b
	}
}

// Server serves the bridge endpoints over one adapter registry.
type Server struct {
	cfg      Config
	registry *adapter.Registry
	factory  *protocol.Factory
	upgrader *websocket.Upgrader
	monitor  *heartbeat.Monitor
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	router   chi.Router
	started  time.Time

	bus     bus.Bus
	ownsBus bool
	events  bus.Subscription

	mu       sync.RWMutex
	sessions map[string]*session
	httpSrv  *http.Server
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a server over registry and starts its event fan-out. Without
// WithBus an in-memory bus is used.
func New(registry *adapter.Registry, cfg Config, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, perrors.InvalidRequest("server requires an adapter registry")
	}
	cfg = cfg.withDefaults()
	if err := bus.ValidateSubject(cfg.Subject); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		factory:  protocol.NewFactory(protocol.WithIDPrefix("srv")),
		upgrader: transport.NewWebSocketUpgrader(cfg.AllowedOrigins),
		logger:   logging.New().WithComponent("server"),
		tracer:   telemetry.GetTracer(),
		started:  time.Now(),
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.NewMemoryBus(0)
		s.ownsBus = true
	}

	monitor, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{Timeout: cfg.IdleTimeout})
	if err != nil {
		return nil, perrors.Wrap(err, "creating idle monitor")
	}
	monitor.OnDead(s.expire)
	s.monitor = monitor

	events, err := s.bus.Subscribe(cfg.Subject)
	if err != nil {
		s.closeBus()
		return nil, err
	}
	s.events = events

	if err := s.monitor.Start(); err != nil {
		events.Unsubscribe()
		s.closeBus()
		return nil, perrors.Wrap(err, "starting idle monitor")
	}

	s.router = s.routes()

	s.wg.Add(2)
	go s.fanOut()
	go s.watchRegistry(registry.Watch())
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get(transport.PathHealth, s.handleHealth)
	r.Get("/api/adapters", s.handleAdapters)
	r.Post(transport.PathRequest, s.handleRequest)
	r.Post(transport.PathEvent, s.handleEvent)
	r.Get(transport.PathWS, s.handleWebSocket)
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// ListenAndServe listens on Config.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return perrors.ConnectionFailed("listen on "+s.cfg.Addr, perrors.WithCause(err))
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return perrors.ConnectionLost("server is shut down")
	}
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("listening", map[string]interface{}{
		"addr": ln.Addr().String(),
		"name": s.cfg.Name,
	})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return perrors.ConnectionLost("serve", perrors.WithCause(err))
	}
	return nil
}

// Shutdown stops accepting connections, sends every session a disconnect
// (code 4003) and stops the fan-out. Adapters are left to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	srv := s.httpSrv
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sess := range sessions {
		sess.closeWith("server shutting down", transport.DisconnectShutdown)
	}

	s.monitor.Stop()
	s.events.Unsubscribe()
	if err := s.closeBus(); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, perrors.Wrap(ctx.Err(), "waiting for sessions"))
	}

	s.logger.Info("shutdown complete", nil)
	return errors.Join(errs...)
}

func (s *Server) closeBus() error {
	if !s.ownsBus {
		return nil
	}
	return s.bus.Close()
}

// SessionCount returns the number of open WebSocket sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) serverInfo() *protocol.PeerInfo {
	return &protocol.PeerInfo{Name: s.cfg.Name, Version: protocol.ProtocolVersion, Platform: runtime.GOOS}
}

// capabilities lists what this server can serve: PING plus every
// capability a registered adapter declares.
func (s *Server) capabilities() []string {
	caps := []string{string(protocol.OpPing)}
	for _, c := range s.registry.Capabilities() {
		if c != string(protocol.OpPing) {
			caps = append(caps, c)
		}
	}
	return caps
}
