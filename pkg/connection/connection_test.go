package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			8 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 10)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(InitialBackoff)*(1+JitterFactor)) + time.Millisecond
		for i, s := range samples {
			if s < InitialBackoff || s > upper {
				t.Errorf("Sample %d: %v out of expected range [%v, %v]", i, s, InitialBackoff, upper)
			}
		}

		allSame := true
		for i := 1; i < len(samples); i++ {
			if samples[i] != samples[0] {
				allSame = false
				break
			}
		}
		if allSame {
			t.Error("All jittered samples are identical - jitter may not be working")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("Backoff should have increased")
		}

		b.Reset()

		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
			Jitter:     0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		if got := b.Current(); got != time.Second {
			t.Errorf("Current() = %v, want 1s", got)
		}
	})
}

// fakeSession ends when its done channel is closed.
type fakeSession struct {
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// fixedReadiness is ready immediately once ready is set.
type fixedReadiness struct {
	addr  string
	ready chan struct{}
}

func (r *fixedReadiness) WaitReady(ctx context.Context) (string, error) {
	select {
	case <-r.ready:
		return r.addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func readyNow(addr string) *fixedReadiness {
	r := &fixedReadiness{addr: addr, ready: make(chan struct{})}
	close(r.ready)
	return r
}

var fastBackoff = BackoffConfig{
	Initial:    10 * time.Millisecond,
	Max:        40 * time.Millisecond,
	Multiplier: 2.0,
	Jitter:     0,
}

func TestNewManagerValidates(t *testing.T) {
	if _, err := NewManager(Config{Readiness: readyNow("x")}); !errors.Is(err, ErrNoDialer) {
		t.Errorf("err = %v, want ErrNoDialer", err)
	}
	dial := func(context.Context, string) (Session, error) { return newFakeSession(), nil }
	if _, err := NewManager(Config{Dial: dial}); !errors.Is(err, ErrNoReadiness) {
		t.Errorf("err = %v, want ErrNoReadiness", err)
	}
}

func TestManagerWaitsForReadiness(t *testing.T) {
	readiness := &fixedReadiness{addr: "robot:6000", ready: make(chan struct{})}
	var dialed atomic.Value
	connected := make(chan Session, 1)

	m, err := NewManager(Config{
		Readiness: readiness,
		Backoff:   fastBackoff,
		Dial: func(_ context.Context, addr string) (Session, error) {
			dialed.Store(addr)
			return newFakeSession(), nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.OnConnected(func(s Session) { connected <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if m.State() != StateWaitingReady {
		t.Fatalf("State() = %v, want WAITING_READY", m.State())
	}
	if m.Dials() != 0 {
		t.Fatalf("Dials() = %d before readiness", m.Dials())
	}

	close(readiness.ready)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("OnConnected not called")
	}
	if got := dialed.Load(); got != "robot:6000" {
		t.Errorf("dialed %v, want robot:6000", got)
	}
	if !m.IsConnected() || m.Session() == nil {
		t.Error("expected an active session")
	}
}

func TestManagerRedialsWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	var count atomic.Int32
	connected := make(chan struct{})

	m, err := NewManager(Config{
		Readiness: readyNow("robot:6000"),
		Backoff:   fastBackoff,
		Dial: func(context.Context, string) (Session, error) {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			if count.Add(1) < 3 {
				return nil, errors.New("refused")
			}
			return newFakeSession(), nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var reconnecting atomic.Int32
	m.OnReconnecting(func(int, time.Duration) { reconnecting.Add(1) })
	m.OnConnected(func(Session) { close(connected) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("never connected")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	if d := attempts[1].Sub(attempts[0]); d < 10*time.Millisecond {
		t.Errorf("first delay = %v, want >= 10ms", d)
	}
	if d := attempts[2].Sub(attempts[1]); d < 20*time.Millisecond {
		t.Errorf("second delay = %v, want >= 20ms", d)
	}
	if reconnecting.Load() != 2 {
		t.Errorf("OnReconnecting called %d times, want 2", reconnecting.Load())
	}
	if m.BackoffAttempts() != 0 {
		t.Errorf("BackoffAttempts() = %d after success, want 0", m.BackoffAttempts())
	}
}

func TestManagerRedialsAfterSessionEnds(t *testing.T) {
	sessions := make(chan *fakeSession, 4)
	m, err := NewManager(Config{
		Readiness: readyNow("robot:6000"),
		Backoff:   fastBackoff,
		Dial: func(context.Context, string) (Session, error) {
			s := newFakeSession()
			sessions <- s
			return s, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	disconnected := make(chan struct{}, 1)
	m.OnDisconnected(func() { disconnected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	first := <-sessions
	first.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnected not called")
	}
	select {
	case <-sessions:
	case <-time.After(time.Second):
		t.Fatal("no redial after session ended")
	}
}

func TestManagerStopsOnCancel(t *testing.T) {
	sessions := make(chan *fakeSession, 1)
	m, err := NewManager(Config{
		Readiness: readyNow("robot:6000"),
		Dial: func(context.Context, string) (Session, error) {
			s := newFakeSession()
			sessions <- s
			return s, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var transitions []State
	var tmu sync.Mutex
	m.OnStateChange(func(_, s State) {
		tmu.Lock()
		transitions = append(transitions, s)
		tmu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sess := <-sessions
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	select {
	case <-sess.Done():
	default:
		t.Error("session not closed on cancel")
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want CLOSED", m.State())
	}

	tmu.Lock()
	defer tmu.Unlock()
	want := []State{StateWaitingReady, StateConnecting, StateConnected, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestManagerRejectsConcurrentRun(t *testing.T) {
	readiness := &fixedReadiness{ready: make(chan struct{})}
	m, err := NewManager(Config{
		Readiness: readiness,
		Dial:      func(context.Context, string) (Session, error) { return newFakeSession(), nil },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := m.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateWaitingReady, "WAITING_READY"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
