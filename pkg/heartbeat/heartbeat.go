package heartbeat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// ErrNoSender is returned by Fire when called without a sender.
var ErrNoSender = errors.New("heartbeat: no sender")

// Sender delivers a message to the peer immediately.
type Sender interface {
	Send(msg *wire.Message) error
}

// Source produces the keep-alive message used when nothing else is pending.
type Source interface {
	Fallback() *wire.Message
}

// Config configures a Task.
type Config struct {
	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// ConnectionID tags protocol events emitted by Fire.
	ConnectionID string
}

// Stats is a snapshot of heartbeat counters.
type Stats struct {
	// Fired counts heartbeats sent directly by Fire.
	Fired uint64

	// Failed counts Fire calls whose send returned an error.
	Failed uint64

	// Fallbacks counts heartbeats handed out in place of an empty outbox.
	Fallbacks uint64

	// LastFired is the time of the last successful Fire.
	LastFired time.Time
}

// Task produces the well-known keep-alive message.
//
// It has two triggers: Fallback, used by the outbox when nothing is queued,
// and Fire, used by the transport's idle monitor to send a heartbeat right
// away instead of waiting for the next send cycle.
type Task struct {
	cfg Config

	fired     atomic.Uint64
	failed    atomic.Uint64
	fallbacks atomic.Uint64
	lastFired atomic.Int64
}

// New creates a heartbeat task.
func New(cfg Config) *Task {
	return &Task{cfg: cfg}
}

// Message returns a fresh keep-alive message.
func (t *Task) Message() *wire.Message {
	return wire.HeartbeatMessage()
}

// Fallback returns a keep-alive message and counts it as an outbox fallback.
func (t *Task) Fallback() *wire.Message {
	t.fallbacks.Add(1)
	return t.Message()
}

// Fire sends a heartbeat through s now.
func (t *Task) Fire(s Sender) error {
	if s == nil {
		return ErrNoSender
	}
	if err := s.Send(t.Message()); err != nil {
		t.failed.Add(1)
		t.debugLog("heartbeat send failed", "error", err)
		t.logError(err)
		return fmt.Errorf("heartbeat: %w", err)
	}
	t.fired.Add(1)
	t.lastFired.Store(time.Now().UnixNano())
	t.debugLog("heartbeat sent on idle")
	return nil
}

// Stats returns the current counters.
func (t *Task) Stats() Stats {
	s := Stats{
		Fired:     t.fired.Load(),
		Failed:    t.failed.Load(),
		Fallbacks: t.fallbacks.Load(),
	}
	if ns := t.lastFired.Load(); ns != 0 {
		s.LastFired = time.Unix(0, ns)
	}
	return s
}

func (t *Task) logError(err error) {
	log.Emit(t.cfg.ProtocolLogger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.cfg.ConnectionID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerService,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Code:    log.ErrorCode(log.ErrorCodeSendFailed),
			Context: "heartbeat",
		},
	})
}

func (t *Task) debugLog(msg string, args ...any) {
	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug(msg, args...)
	}
}

var _ Source = (*Task)(nil)
