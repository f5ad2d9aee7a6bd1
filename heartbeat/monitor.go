package heartbeat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor tracks when peers were last heard from.
type Monitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	lastSeen map[string]time.Time
	reported map[string]bool // dead peers already announced
	deadCBs  []func(string)

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor. Touch works before Start; dead-peer
// detection runs only while started.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultMonitorConfig().Timeout
	}
	checkInterval := cfg.CheckInterval
	if checkInterval == 0 {
		checkInterval = timeout / 4
	}
	if checkInterval < 10*time.Millisecond {
		checkInterval = 10 * time.Millisecond
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Monitor{
		timeout:       timeout,
		checkInterval: checkInterval,
		now:           now,
		lastSeen:      make(map[string]time.Time),
		reported:      make(map[string]bool),
	}, nil
}

// Timeout returns the silence bound.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Touch records activity from peer, reviving it if it was reported dead.
func (m *Monitor) Touch(peer string) {
	m.mu.Lock()
	m.lastSeen[peer] = m.now()
	delete(m.reported, peer)
	m.mu.Unlock()
}

// Forget stops tracking peer.
func (m *Monitor) Forget(peer string) {
	m.mu.Lock()
	delete(m.lastSeen, peer)
	delete(m.reported, peer)
	m.mu.Unlock()
}

// IsAlive reports whether peer was heard from within the timeout.
func (m *Monitor) IsAlive(peer string) bool {
	m.mu.RLock()
	seen, ok := m.lastSeen[peer]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.now().Sub(seen) <= m.timeout
}

// LastSeen returns when peer was last heard from.
func (m *Monitor) LastSeen(peer string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen, ok := m.lastSeen[peer]
	return seen, ok
}

// Peers lists tracked peers in sorted order.
func (m *Monitor) Peers() []string {
	m.mu.RLock()
	peers := make([]string, 0, len(m.lastSeen))
	for p := range m.lastSeen {
		peers = append(peers, p)
	}
	m.mu.RUnlock()
	sort.Strings(peers)
	return peers
}

// OnDead registers a callback for peers presumed dead. Callbacks run on the
// monitor goroutine and must not call Stop.
func (m *Monitor) OnDead(callback func(peer string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// Start begins the dead-peer sweep.
func (m *Monitor) Start() error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()
	return nil
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkDeadPeers()
		}
	}
}

func (m *Monitor) checkDeadPeers() {
	now := m.now()
	var dead []string

	m.mu.Lock()
	for peer, seen := range m.lastSeen {
		if now.Sub(seen) > m.timeout && !m.reported[peer] {
			m.reported[peer] = true
			dead = append(dead, peer)
		}
	}
	callbacks := make([]func(string), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	sort.Strings(dead)
	for _, peer := range dead {
		for _, cb := range callbacks {
			cb(peer)
		}
	}
}

// Stop ends the sweep and waits for it to exit.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return nil
}
