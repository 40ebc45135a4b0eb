package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleTimeout is the default time without traffic before the idle
// callback fires.
const DefaultIdleTimeout = 2 * time.Second

// minIdleCheck bounds how often the idle monitor wakes up.
const minIdleCheck = 5 * time.Millisecond

// IdleMonitor raises a callback when no bytes have been read or written
// for the configured timeout. It fires at most once per idle period: the
// callback counts as activity.
type IdleMonitor struct {
	timeout time.Duration
	onIdle  func()

	lastActivity atomic.Int64
	fired        atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewIdleMonitor creates a monitor. A zero timeout selects DefaultIdleTimeout.
func NewIdleMonitor(timeout time.Duration, onIdle func()) *IdleMonitor {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	m := &IdleMonitor{
		timeout: timeout,
		onIdle:  onIdle,
	}
	m.Touch()
	return m
}

// Timeout returns the configured idle timeout.
func (m *IdleMonitor) Timeout() time.Duration {
	return m.timeout
}

// Touch records activity now.
func (m *IdleMonitor) Touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent activity.
func (m *IdleMonitor) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

// Fired returns how many times the idle callback has run.
func (m *IdleMonitor) Fired() uint64 {
	return m.fired.Load()
}

// Start begins monitoring. It is a no-op when already running.
func (m *IdleMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.mu.Unlock()

	m.Touch()
	go m.loop(ctx, stopCh)
}

// Stop halts monitoring. It may be called from the idle callback.
func (m *IdleMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// IsRunning reports whether the monitor loop is active.
func (m *IdleMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *IdleMonitor) loop(ctx context.Context, stopCh chan struct{}) {
	interval := max(m.timeout/4, minIdleCheck)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if time.Since(m.LastActivity()) >= m.timeout {
				m.Touch()
				m.fired.Add(1)
				if m.onIdle != nil {
					m.onIdle()
				}
			}
		}
	}
}
