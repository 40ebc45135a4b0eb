package netmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ftc-sim/simbridge/pkg/heartbeat"
	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// ErrCancelled is returned when a blocking call observes a cancelled context.
var ErrCancelled = errors.New("netmanager: wait cancelled")

// Polling defaults.
const (
	// DefaultTakePollInterval bounds a single wait inside TakeLatest.
	DefaultTakePollInterval = 10 * time.Millisecond

	// DefaultStagePollInterval bounds a single wait inside ProcessStaged.
	DefaultStagePollInterval = 25 * time.Millisecond

	// DefaultReadyPollInterval bounds a single wait inside WaitReady.
	DefaultReadyPollInterval = 2 * time.Second

	// DefaultSoftCap is the outbox size above which it is trimmed.
	DefaultSoftCap = 100
)

// OutboxPolicy controls backpressure on pending sends.
type OutboxPolicy struct {
	// SoftCap is the outbox length above which the next dequeue trims it.
	SoftCap int `yaml:"soft_cap"`

	// TrimTo is the number of newest entries kept by a trim
	// (0 = half of the current length).
	TrimTo int `yaml:"trim_to"`
}

// DefaultOutboxPolicy returns the default policy: cap 100, keep the newest half.
func DefaultOutboxPolicy() OutboxPolicy {
	return OutboxPolicy{SoftCap: DefaultSoftCap}
}

// keep returns how many entries survive a trim of an outbox holding n.
func (p OutboxPolicy) keep(n int) int {
	if p.TrimTo > 0 && p.TrimTo < n {
		return p.TrimTo
	}
	return n / 2
}

// Config configures a Manager.
type Config struct {
	Outbox OutboxPolicy

	TakePollInterval  time.Duration
	StagePollInterval time.Duration
	ReadyPollInterval time.Duration

	// Heartbeat supplies the fallback message for an empty outbox.
	// Nil uses wire.HeartbeatMessage.
	Heartbeat heartbeat.Source

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Outbox:            DefaultOutboxPolicy(),
		TakePollInterval:  DefaultTakePollInterval,
		StagePollInterval: DefaultStagePollInterval,
		ReadyPollInterval: DefaultReadyPollInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.Outbox.SoftCap <= 0 {
		c.Outbox.SoftCap = DefaultSoftCap
	}
	if c.TakePollInterval <= 0 {
		c.TakePollInterval = DefaultTakePollInterval
	}
	if c.StagePollInterval <= 0 {
		c.StagePollInterval = DefaultStagePollInterval
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = DefaultReadyPollInterval
	}
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Filed     uint64
	Taken     uint64
	Queued    uint64
	Sent      uint64
	Trimmed   uint64
	Fallbacks uint64
}

// Manager holds received messages keyed by kind (the inbox), messages
// waiting for transmission (the outbox), and the readiness state that
// gates connecting to the robot.
//
// The inbox and the outbox deliberately differ in order: TakeLatest pops
// the newest message of a kind, NextToSend dequeues the oldest pending send.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	inbox  map[wire.Kind][]*wire.Message
	staged []*wire.Message
	outbox []*wire.Message
	stats  Stats

	ready        bool
	robotAddress string

	sigMu   sync.Mutex
	changed chan struct{}
}

// New creates an empty manager.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		inbox:   make(map[wire.Kind][]*wire.Message),
		changed: make(chan struct{}),
	}
}

// FileIncoming appends msg to the inbox bucket for its kind.
func (m *Manager) FileIncoming(msg *wire.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	m.inbox[msg.Kind] = append(m.inbox[msg.Kind], msg)
	m.stats.Filed++
	m.mu.Unlock()
	m.signal()
}

// TakeLatest blocks until a message of kind is available and returns the
// most recently filed one.
//
// Without cache the message is removed and older entries stay queued for
// later calls. With cache the bucket is reduced to the returned message, so
// repeated calls yield the same value until a newer one is filed.
func (m *Manager) TakeLatest(ctx context.Context, kind wire.Kind, cache bool) (*wire.Message, error) {
	for {
		if msg, ok := m.tryTake(kind, cache); ok {
			return msg, nil
		}
		if err := m.wait(ctx, m.cfg.TakePollInterval); err != nil {
			return nil, err
		}
	}
}

// TakeLatestData is TakeLatest returning the first payload field's bytes.
func (m *Manager) TakeLatestData(ctx context.Context, kind wire.Kind, cache bool) ([]byte, error) {
	msg, err := m.TakeLatest(ctx, kind, cache)
	if err != nil {
		return nil, err
	}
	return msg.FirstData(), nil
}

// HasPending reports whether the inbox holds a message of kind.
func (m *Manager) HasPending(kind wire.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox[kind]) > 0
}

// InboxLen returns the number of filed messages of kind.
func (m *Manager) InboxLen(kind wire.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox[kind])
}

// Clear drops every filed message of kind.
func (m *Manager) Clear(kind wire.Kind) {
	m.mu.Lock()
	delete(m.inbox, kind)
	m.mu.Unlock()
}

// Stage appends msg to the staging list without filing it. The network
// reader uses this so it never touches the inbox directly.
func (m *Manager) Stage(msg *wire.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	m.staged = append(m.staged, msg)
	m.mu.Unlock()
	m.signal()
}

// ProcessStaged waits until at least one message is staged, then files
// every staged message oldest first. It returns the number filed.
func (m *Manager) ProcessStaged(ctx context.Context) (int, error) {
	for {
		m.mu.Lock()
		staged := m.staged
		m.staged = nil
		for _, msg := range staged {
			m.inbox[msg.Kind] = append(m.inbox[msg.Kind], msg)
		}
		m.stats.Filed += uint64(len(staged))
		m.mu.Unlock()

		if len(staged) > 0 {
			m.signal()
			return len(staged), nil
		}
		if err := m.wait(ctx, m.cfg.StagePollInterval); err != nil {
			return 0, err
		}
	}
}

// RunStaging files staged messages until ctx is done.
func (m *Manager) RunStaging(ctx context.Context) error {
	for {
		if _, err := m.ProcessStaged(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RequestSend appends a message to the tail of the outbox.
func (m *Manager) RequestSend(kind wire.Kind, module wire.Module, fields ...wire.Field) {
	m.RequestSendMessage(wire.NewMessage(kind, module, fields...))
}

// RequestSendBytes queues a message with a single binary field.
func (m *Manager) RequestSendBytes(kind wire.Kind, module wire.Module, data []byte) {
	m.RequestSend(kind, module, wire.BytesField(data))
}

// RequestSendMessage appends msg to the tail of the outbox. An outbox
// that nobody drains is trimmed once it reaches twice its soft cap.
func (m *Manager) RequestSendMessage(msg *wire.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	m.outbox = append(m.outbox, msg)
	m.stats.Queued++
	if len(m.outbox) > 2*m.cfg.Outbox.SoftCap {
		m.trimLocked()
	}
	m.mu.Unlock()
}

// NextToSend removes and returns the oldest pending send. It never blocks:
// an empty outbox yields a heartbeat.
func (m *Manager) NextToSend() *wire.Message {
	if msg, ok := m.TakeSend(); ok {
		return msg
	}
	m.mu.Lock()
	m.stats.Fallbacks++
	m.mu.Unlock()
	return m.fallback()
}

// TakeSend removes and returns the oldest pending send, reporting false
// when the outbox is empty.
func (m *Manager) TakeSend() (*wire.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimLocked()
	if len(m.outbox) == 0 {
		return nil, false
	}
	msg := m.outbox[0]
	m.outbox[0] = nil
	m.outbox = m.outbox[1:]
	m.stats.Sent++
	return msg, true
}

// NextToSendBatch removes up to n pending sends from the newest end and
// returns them newest first. An empty outbox yields a single heartbeat.
func (m *Manager) NextToSendBatch(n int) []*wire.Message {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	m.trimLocked()
	if len(m.outbox) == 0 {
		m.stats.Fallbacks++
		m.mu.Unlock()
		return []*wire.Message{m.fallback()}
	}
	n = min(n, len(m.outbox))
	out := make([]*wire.Message, 0, n)
	for i := 0; i < n; i++ {
		last := len(m.outbox) - 1
		out = append(out, m.outbox[last])
		m.outbox[last] = nil
		m.outbox = m.outbox[:last]
	}
	m.stats.Sent += uint64(n)
	m.mu.Unlock()
	return out
}

// PendingSends returns the outbox length.
func (m *Manager) PendingSends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox)
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// SetRobotAddress records the robot's network address.
func (m *Manager) SetRobotAddress(addr string) {
	m.mu.Lock()
	m.robotAddress = addr
	m.mu.Unlock()
	m.signal()
}

// RobotAddress returns the recorded robot address.
func (m *Manager) RobotAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.robotAddress
}

// SetReady sets the readiness flag.
func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	old := m.ready
	m.ready = ready
	m.mu.Unlock()
	if old == ready {
		return
	}
	m.debugLog("readiness changed", "ready", ready)
	log.Emit(m.cfg.ProtocolLogger, log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityReadiness,
			OldState: readyString(old),
			NewState: readyString(ready),
		},
	})
	m.signal()
}

// IsReady reports the readiness flag.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// WaitReady blocks until the manager is ready and returns the robot address.
func (m *Manager) WaitReady(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		ready, addr := m.ready, m.robotAddress
		m.mu.Unlock()
		if ready {
			return addr, nil
		}
		if err := m.wait(ctx, m.cfg.ReadyPollInterval); err != nil {
			return "", err
		}
	}
}

func (m *Manager) tryTake(kind wire.Kind, cache bool) (*wire.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.inbox[kind]
	if len(bucket) == 0 {
		return nil, false
	}
	last := len(bucket) - 1
	msg := bucket[last]
	if cache {
		m.inbox[kind] = []*wire.Message{msg}
	} else {
		bucket[last] = nil
		m.inbox[kind] = bucket[:last]
	}
	m.stats.Taken++
	return msg, true
}

// trimLocked drops the oldest pending sends once the outbox exceeds its
// soft cap. Caller holds m.mu.
func (m *Manager) trimLocked() {
	n := len(m.outbox)
	if n <= m.cfg.Outbox.SoftCap {
		return
	}
	keep := m.cfg.Outbox.keep(n)
	dropped := n - keep
	kept := make([]*wire.Message, keep, max(keep, m.cfg.Outbox.SoftCap))
	copy(kept, m.outbox[dropped:])
	m.outbox = kept
	m.stats.Trimmed += uint64(dropped)
	m.debugLog("outbox trimmed", "dropped", dropped, "kept", keep)
}

func (m *Manager) fallback() *wire.Message {
	if m.cfg.Heartbeat != nil {
		return m.cfg.Heartbeat.Fallback()
	}
	return wire.HeartbeatMessage()
}

// wait blocks for at most d, returning early when manager state changes.
func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	m.sigMu.Lock()
	changed := m.changed
	m.sigMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case <-changed:
	case <-timer.C:
	}
	return nil
}

func (m *Manager) signal() {
	m.sigMu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.sigMu.Unlock()
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, args...)
	}
}

func readyString(ready bool) string {
	if ready {
		return "READY"
	}
	return "NOT_READY"
}
