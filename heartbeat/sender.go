package heartbeat

import (
	"context"
	"sync/atomic"
	"time"
)

// Sender calls a beat function on a fixed interval.
type Sender struct {
	interval time.Duration
	beat     BeatFunc
	onError  func(error)

	sent     atomic.Int64
	failures atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a sender. It does nothing until Start.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultSenderConfig().Interval
	}
	return &Sender{
		interval: interval,
		beat:     cfg.Beat,
		onError:  cfg.OnError,
	}, nil
}

// Start begins beating. The first beat fires after one interval.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.send(ctx)
		}
	}
}

func (s *Sender) send(ctx context.Context) {
	if err := s.beat(ctx); err != nil {
		s.failures.Add(1)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.sent.Add(1)
}

// Stop stops beating and waits for the loop to exit. It must not be called
// from inside the beat function.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Running reports whether the sender is active.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Sent returns the number of successful beats.
func (s *Sender) Sent() int64 {
	return s.sent.Load()
}

// Failures returns the number of failed beats.
func (s *Sender) Failures() int64 {
	return s.failures.Load()
}
