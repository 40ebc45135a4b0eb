package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrAlreadyRunning = errors.New("connection manager already running")
	ErrNoDialer       = errors.New("dial function is required")
	ErrNoReadiness    = errors.New("readiness source is required")
)

// State represents the dialer state.
type State uint8

const (
	// StateDisconnected indicates Run has not started.
	StateDisconnected State = iota

	// StateWaitingReady indicates Run is waiting for the robot to be ready.
	StateWaitingReady

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates a session is active.
	StateConnected

	// StateReconnecting indicates Run is backing off before the next dial.
	StateReconnecting

	// StateClosed indicates Run has returned.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateWaitingReady:
		return "WAITING_READY"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is an established link to the robot.
type Session interface {
	// Done is closed when the session ends.
	Done() <-chan struct{}
	Close() error
}

// DialFunc establishes a session with the robot at addr.
type DialFunc func(ctx context.Context, addr string) (Session, error)

// Readiness reports when the robot may be dialed and at which address.
// Implemented by netmanager.Manager.
type Readiness interface {
	WaitReady(ctx context.Context) (string, error)
}

// Config configures a Manager.
type Config struct {
	Readiness Readiness
	Dial      DialFunc
	Backoff   BackoffConfig
	Logger    *slog.Logger
}

// Manager keeps a simulator connected to the robot: it waits for
// readiness, dials, and redials with exponential backoff whenever the
// dial fails or the session ends.
type Manager struct {
	cfg     Config
	backoff *Backoff

	mu      sync.RWMutex
	state   State
	session Session
	running bool
	dials   int

	onStateChange  func(oldState, newState State)
	onConnected    func(Session)
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a connection manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dial == nil {
		return nil, ErrNoDialer
	}
	if cfg.Readiness == nil {
		return nil, ErrNoReadiness
	}
	return &Manager{
		cfg:     cfg,
		backoff: NewBackoffWithConfig(cfg.Backoff),
	}, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a session is active.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Session returns the active session, or nil.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Dials returns the number of dial attempts made.
func (m *Manager) Dials() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dials
}

// BackoffAttempts returns the number of consecutive failed attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// Run keeps a session alive until ctx is done. It returns nil when ctx is
// cancelled and ErrAlreadyRunning if called concurrently.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(StateClosed)
	}()

	for {
		m.setState(StateWaitingReady)
		addr, err := m.cfg.Readiness.WaitReady(ctx)
		if err != nil {
			return m.stopErr(ctx, err)
		}

		m.setState(StateConnecting)
		m.mu.Lock()
		m.dials++
		m.mu.Unlock()

		sess, err := m.cfg.Dial(ctx, addr)
		if err != nil {
			m.debugLog("dial failed", "addr", addr, "error", err)
			if err := m.sleepBackoff(ctx); err != nil {
				return nil
			}
			continue
		}

		m.backoff.Reset()
		m.mu.Lock()
		m.session = sess
		m.mu.Unlock()
		m.setState(StateConnected)
		m.debugLog("connected to robot", "addr", addr)
		if cb := m.connectedCallback(); cb != nil {
			cb(sess)
		}

		select {
		case <-ctx.Done():
			sess.Close()
			m.clearSession()
			return nil
		case <-sess.Done():
		}

		m.clearSession()
		m.debugLog("robot session ended", "addr", addr)
		if cb := m.disconnectedCallback(); cb != nil {
			cb()
		}
		if err := m.sleepBackoff(ctx); err != nil {
			return nil
		}
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for established sessions.
func (m *Manager) OnConnected(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for ended sessions.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

func (m *Manager) sleepBackoff(ctx context.Context) error {
	m.setState(StateReconnecting)
	delay := m.backoff.Next()

	m.mu.RLock()
	cb := m.onReconnecting
	m.mu.RUnlock()
	if cb != nil {
		cb(m.backoff.Attempts(), delay)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	cb := m.onStateChange
	m.mu.Unlock()

	if old != s && cb != nil {
		cb(old, s)
	}
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

func (m *Manager) connectedCallback() func(Session) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onConnected
}

func (m *Manager) disconnectedCallback() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onDisconnected
}

func (m *Manager) stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("wait for robot: %w", err)
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, args...)
	}
}
