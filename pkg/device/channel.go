package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftc-sim/simbridge/pkg/bytequeue"
	"github.com/ftc-sim/simbridge/pkg/log"
)

// Device errors.
var (
	// ErrCancelled is returned when a read or write observes an interrupt
	// request or a cancelled context.
	ErrCancelled = errors.New("device operation cancelled")

	// ErrClosed is returned by operations on a closed Handle.
	ErrClosed = errors.New("device closed")

	// ErrInvalidLength is returned for a negative read length.
	ErrInvalidLength = errors.New("invalid read length")

	// ErrBufferTooSmall is returned when the destination cannot hold the
	// requested byte count.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Timing defaults.
const (
	// DefaultPollInterval is how often a blocked writer rechecks the drain.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultReadQuantum is the longest single wait inside Read.
	DefaultReadQuantum = 100 * time.Millisecond
)

// Config configures the channels created by a Registry.
type Config struct {
	// PollInterval is the writer wait quantum (default 10ms).
	PollInterval time.Duration

	// ReadQuantum is the reader wait quantum (default 100ms).
	ReadQuantum time.Duration

	// QueueLimit caps each queue in bytes (0 = bytequeue.MaxCapacity).
	QueueLimit int

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		ReadQuantum:  DefaultReadQuantum,
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadQuantum <= 0 {
		c.ReadQuantum = DefaultReadQuantum
	}
	if c.ReadQuantum > DefaultReadQuantum {
		c.ReadQuantum = DefaultReadQuantum
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = bytequeue.MaxCapacity
	}
}

// PurgeFlags selects which queues a purge clears.
type PurgeFlags uint32

const (
	PurgeRX   PurgeFlags = 1 << 0
	PurgeTX   PurgeFlags = 1 << 1
	PurgeBoth            = PurgeRX | PurgeTX
)

// String returns the purge selection name.
func (p PurgeFlags) String() string {
	switch p {
	case PurgeRX:
		return "RX"
	case PurgeTX:
		return "TX"
	case PurgeBoth:
		return "BOTH"
	default:
		return fmt.Sprintf("PURGE(%d)", uint32(p))
	}
}

// Channel bridges a blocking byte-stream consumer to the network side.
//
// The read queue holds bytes for the consumer; the write queue holds bytes
// the consumer produced that the network side has not drained yet. One
// mutex guards both queues. It is never held while waiting.
type Channel struct {
	id  string
	cfg Config

	mu     sync.Mutex
	readQ  *bytequeue.Queue
	writeQ *bytequeue.Queue

	busy      atomic.Bool
	dirty     atomic.Bool
	interrupt atomic.Bool
	purge     atomic.Uint32

	sigMu   sync.Mutex
	changed chan struct{}
}

func newChannel(id string, cfg Config) *Channel {
	readQ, _ := bytequeue.NewBounded(bytequeue.DefaultCapacity, cfg.QueueLimit)
	writeQ, _ := bytequeue.NewBounded(bytequeue.DefaultCapacity, cfg.QueueLimit)
	return &Channel{
		id:      id,
		cfg:     cfg,
		readQ:   readQ,
		writeQ:  writeQ,
		changed: make(chan struct{}),
	}
}

// ID returns the device identifier.
func (c *Channel) ID() string {
	return c.id
}

// Busy reports whether a queue operation currently holds the lock.
func (c *Channel) Busy() bool {
	return c.busy.Load()
}

// Dirty reports whether written bytes await draining.
func (c *Channel) Dirty() bool {
	return c.dirty.Load()
}

// ReadAvailable returns the number of bytes waiting for the consumer.
func (c *Channel) ReadAvailable() int {
	c.lock()
	defer c.unlock()
	return c.readQ.Len()
}

// WritePending returns the number of written bytes not yet drained.
func (c *Channel) WritePending() int {
	c.lock()
	defer c.unlock()
	return c.writeQ.Len()
}

// Write queues p for the network side, marks the channel dirty and blocks
// until a drain clears the dirty flag. It returns len(p) on success.
func (c *Channel) Write(ctx context.Context, p []byte) (int, error) {
	if c.interrupt.Load() {
		return 0, ErrCancelled
	}
	c.applyPurge()

	c.lock()
	err := c.writeQ.PushAll(p)
	if err == nil && len(p) > 0 {
		c.dirty.Store(true)
	}
	c.unlock()
	if err != nil {
		return 0, fmt.Errorf("device %s: %w", c.id, err)
	}
	c.emit(log.DeviceOpWrite, log.DirectionOut, p)

	for c.dirty.Load() {
		if err := c.wait(ctx, c.cfg.PollInterval); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Read waits up to timeout for n bytes and copies exactly n bytes into dst.
// It returns 0 with a nil error when the timeout elapses first; it never
// returns a short read.
func (c *Channel) Read(ctx context.Context, dst []byte, n int, timeout time.Duration) (int, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	case n > len(dst):
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, len(dst))
	case n == 0:
		return 0, nil
	}
	if c.interrupt.Load() {
		return 0, ErrCancelled
	}
	c.applyPurge()

	deadline := time.Now().Add(timeout)
	for {
		if got, err := c.tryRead(dst[:n]); got > 0 || err != nil {
			return got, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		if err := c.wait(ctx, min(remaining, c.cfg.ReadQuantum)); err != nil {
			return 0, err
		}
	}
}

// PushRead appends bytes received from the network for the consumer.
func (c *Channel) PushRead(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	c.lock()
	err := c.readQ.PushAll(p)
	c.unlock()
	if err != nil {
		return fmt.Errorf("device %s: %w", c.id, err)
	}
	c.emit(log.DeviceOpFeed, log.DirectionIn, p)
	c.signal()
	return nil
}

// DrainWrite removes all pending written bytes and clears the dirty flag,
// releasing blocked writers. It returns false without waiting when the
// channel is clean or another operation holds the lock.
func (c *Channel) DrainWrite() ([]byte, bool) {
	if !c.dirty.Load() || c.busy.Load() {
		return nil, false
	}
	if !c.mu.TryLock() {
		return nil, false
	}
	c.busy.Store(true)
	data := c.writeQ.DrainAll()
	c.dirty.Store(false)
	c.unlock()

	c.signal()
	if len(data) == 0 {
		return nil, false
	}
	c.emit(log.DeviceOpDrain, log.DirectionOut, data)
	return data, true
}

// Purge records a purge of the selected queues. It takes effect at the
// start of the next Read or Write.
func (c *Channel) Purge(flags PurgeFlags) {
	c.purge.Or(uint32(flags & PurgeBoth))
}

// RequestInterrupt makes in-flight and later reads and writes fail with
// ErrCancelled.
func (c *Channel) RequestInterrupt() {
	c.interrupt.Store(true)
	c.signal()
}

// ClearInterrupt withdraws a previous RequestInterrupt.
func (c *Channel) ClearInterrupt() {
	c.interrupt.Store(false)
}

// Interrupted reports whether an interrupt is pending.
func (c *Channel) Interrupted() bool {
	return c.interrupt.Load()
}

func (c *Channel) tryRead(dst []byte) (int, error) {
	c.lock()
	defer c.unlock()
	if c.readQ.Len() < len(dst) {
		return 0, nil
	}
	n, err := c.readQ.PopInto(dst)
	if err != nil {
		return 0, fmt.Errorf("device %s: %w", c.id, err)
	}
	c.emit(log.DeviceOpRead, log.DirectionIn, dst[:n])
	return n, nil
}

func (c *Channel) applyPurge() {
	flags := PurgeFlags(c.purge.Swap(0))
	if flags == 0 {
		return
	}
	c.lock()
	if flags&PurgeRX != 0 {
		c.readQ.Clear()
	}
	if flags&PurgeTX != 0 {
		c.writeQ.Clear()
		c.dirty.Store(false)
	}
	c.unlock()
	c.signal()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("device purged", slog.String("device", c.id), slog.String("queues", flags.String()))
	}
	c.emit(log.DeviceOpPurge, log.DirectionIn, nil)
}

// wait blocks for at most d, returning early when channel state changes.
func (c *Channel) wait(ctx context.Context, d time.Duration) error {
	if c.interrupt.Load() {
		return ErrCancelled
	}

	c.sigMu.Lock()
	changed := c.changed
	c.sigMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case <-changed:
	case <-timer.C:
	}

	if c.interrupt.Load() {
		return ErrCancelled
	}
	return nil
}

// signal wakes every waiter.
func (c *Channel) signal() {
	c.sigMu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.sigMu.Unlock()
}

func (c *Channel) lock() {
	c.mu.Lock()
	c.busy.Store(true)
}

func (c *Channel) unlock() {
	c.busy.Store(false)
	c.mu.Unlock()
}

func (c *Channel) emit(op log.DeviceOp, dir log.Direction, data []byte) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerDevice,
		Category:  log.CategoryDevice,
		DeviceID:  c.id,
		Device: &log.DeviceEvent{
			Op:    op,
			Count: len(data),
			Data:  append([]byte(nil), data...),
		},
	})
}
