package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- Sender ---

func TestSenderConfig_Validate(t *testing.T) {
	beat := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		cfg     SenderConfig
		wantErr bool
	}{
		{"valid", SenderConfig{Beat: beat, Interval: time.Second}, false},
		{"default interval", SenderConfig{Beat: beat}, false},
		{"missing beat", SenderConfig{Interval: time.Second}, true},
		{"negative interval", SenderConfig{Beat: beat, Interval: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSender_StartStop(t *testing.T) {
	var beats atomic.Int32
	s, err := NewSender(SenderConfig{
		Interval: 10 * time.Millisecond,
		Beat: func(context.Context) error {
			beats.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	time.Sleep(55 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	got := beats.Load()
	if got < 2 {
		t.Errorf("beats = %d, want at least 2", got)
	}
	if s.Sent() != int64(got) {
		t.Errorf("Sent() = %d, want %d", s.Sent(), got)
	}

	time.Sleep(30 * time.Millisecond)
	if beats.Load() != got {
		t.Error("beats continued after Stop")
	}
}

func TestSender_StopBeforeStart(t *testing.T) {
	s, _ := NewSender(SenderConfig{Beat: func(context.Context) error { return nil }})
	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("Stop() = %v, want ErrNotStarted", err)
	}
}

func TestSender_ReportsFailures(t *testing.T) {
	boom := errors.New("link down")
	var mu sync.Mutex
	var seen []error

	s, _ := NewSender(SenderConfig{
		Interval: 5 * time.Millisecond,
		Beat:     func(context.Context) error { return boom },
		OnError: func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		},
	})
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != boom {
		t.Errorf("OnError saw %v", seen)
	}
	if s.Failures() == 0 || s.Sent() != 0 {
		t.Errorf("Failures() = %d, Sent() = %d", s.Failures(), s.Sent())
	}
}

func TestSender_ContextCancel(t *testing.T) {
	s, _ := NewSender(SenderConfig{
		Interval: 5 * time.Millisecond,
		Beat:     func(context.Context) error { return nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Running() {
		t.Error("sender should stop when its context ends")
	}
}

// --- Monitor ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMonitor_IsAlive(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m, _ := NewMonitor(MonitorConfig{Timeout: time.Second, Now: clock.Now})

	if m.IsAlive("a") {
		t.Error("unknown peer should not be alive")
	}
	m.Touch("a")
	if !m.IsAlive("a") {
		t.Error("touched peer should be alive")
	}
	clock.Advance(2 * time.Second)
	if m.IsAlive("a") {
		t.Error("silent peer should not be alive")
	}
	if _, ok := m.LastSeen("a"); !ok {
		t.Error("LastSeen should still know the peer")
	}
	m.Forget("a")
	if len(m.Peers()) != 0 {
		t.Errorf("Peers() = %v after Forget", m.Peers())
	}
}

func TestMonitor_DeathReportedOnce(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m, _ := NewMonitor(MonitorConfig{Timeout: time.Second, Now: clock.Now})

	var mu sync.Mutex
	var dead []string
	m.OnDead(func(peer string) {
		mu.Lock()
		dead = append(dead, peer)
		mu.Unlock()
	})

	m.Touch("a")
	m.Touch("b")
	clock.Advance(2 * time.Second)
	m.Touch("b")

	m.checkDeadPeers()
	m.checkDeadPeers()

	mu.Lock()
	if len(dead) != 1 || dead[0] != "a" {
		t.Errorf("dead = %v, want [a]", dead)
	}
	mu.Unlock()

	// Touch revives; a second silence is reported again.
	m.Touch("a")
	clock.Advance(2 * time.Second)
	m.checkDeadPeers()

	mu.Lock()
	defer mu.Unlock()
	if len(dead) != 3 {
		t.Errorf("dead = %v, want a, a, b", dead)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	m, _ := NewMonitor(MonitorConfig{Timeout: 20 * time.Millisecond})

	fired := make(chan string, 1)
	m.OnDead(func(peer string) {
		select {
		case fired <- peer:
		default:
		}
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	m.Touch("conn-1")

	select {
	case peer := <-fired:
		if peer != "conn-1" {
			t.Errorf("peer = %q", peer)
		}
	case <-time.After(time.Second):
		t.Fatal("OnDead did not fire")
	}

	if err := m.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if err := m.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
}
