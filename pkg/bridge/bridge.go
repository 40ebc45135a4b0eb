package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftc-sim/simbridge/pkg/device"
	"github.com/ftc-sim/simbridge/pkg/heartbeat"
	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/netmanager"
	"github.com/ftc-sim/simbridge/pkg/transport"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// DefaultPumpInterval is how often Run drains devices and flushes the outbox.
const DefaultPumpInterval = 10 * time.Millisecond

// ErrNoPeer is returned by Flush when no connection is attached.
var ErrNoPeer = errors.New("bridge: no peer attached")

// Sender sends a message to the connected peer.
type Sender interface {
	Send(msg *wire.Message) error
}

// Config configures a Bridge.
type Config struct {
	// Role selects the message exchange rules. Required.
	Role log.Role

	// Registry holds the simulated devices. Required.
	Registry *device.Registry

	// Manager holds the inbox and outbox. Required.
	Manager *netmanager.Manager

	// Heartbeat answers idle triggers. Nil creates a private task.
	Heartbeat *heartbeat.Task

	// DeviceModule tags outgoing device data (default DEVICE_INTERFACE).
	DeviceModule wire.Module

	// PumpInterval is the Run cadence (default 10ms).
	PumpInterval time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

func (c *Config) applyDefaults() {
	if c.DeviceModule == wire.ModuleUnknown {
		c.DeviceModule = wire.ModuleDeviceInterface
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = DefaultPumpInterval
	}
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Received       uint64
	Heartbeats     uint64
	DeviceBytesIn  uint64
	DeviceBytesOut uint64
	Sent           uint64
	SendErrors     uint64
}

// Bridge is the network I/O unit. It routes received messages to device
// channels or the inbox, moves bytes written to devices into the outbox and
// transmits the outbox to the attached peer.
//
// On the robot side incoming heartbeats are dropped and every message
// triggers a flush of pending sends; a greeting is sent and the manager is
// marked ready when a simulator connects. On the simulator side every
// incoming message is answered with exactly one NextToSend, which is a
// heartbeat when nothing is pending.
type Bridge struct {
	cfg       Config
	heartbeat *heartbeat.Task

	mu   sync.Mutex
	peer Sender

	// sendMu pairs each outbox dequeue with its send so concurrent
	// flushes and replies keep outbox order on the wire.
	sendMu sync.Mutex

	received       atomic.Uint64
	heartbeats     atomic.Uint64
	deviceBytesIn  atomic.Uint64
	deviceBytesOut atomic.Uint64
	sent           atomic.Uint64
	sendErrors     atomic.Uint64
}

// New creates a bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Registry == nil {
		return nil, errors.New("bridge: registry is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("bridge: manager is required")
	}
	if cfg.Role != log.RoleRobot && cfg.Role != log.RoleSimulator {
		return nil, fmt.Errorf("bridge: invalid role %s", cfg.Role)
	}
	cfg.applyDefaults()

	hb := cfg.Heartbeat
	if hb == nil {
		hb = heartbeat.New(heartbeat.Config{Logger: cfg.Logger, ProtocolLogger: cfg.ProtocolLogger})
	}
	return &Bridge{cfg: cfg, heartbeat: hb}, nil
}

// Role returns the configured role.
func (b *Bridge) Role() log.Role {
	return b.cfg.Role
}

// Attach makes s the peer used by Flush. On the robot side it also sends
// the greeting and marks the manager ready.
func (b *Bridge) Attach(s Sender) error {
	b.mu.Lock()
	b.peer = s
	b.mu.Unlock()

	if b.cfg.Role != log.RoleRobot {
		return nil
	}
	if err := b.send(s, wire.GreetingMessage()); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	b.cfg.Manager.SetReady(true)
	return nil
}

// Detach clears the peer if it is s. On the robot side the manager is
// marked not ready.
func (b *Bridge) Detach(s Sender) {
	b.mu.Lock()
	if b.peer != s {
		b.mu.Unlock()
		return
	}
	b.peer = nil
	b.mu.Unlock()

	if b.cfg.Role == log.RoleRobot {
		b.cfg.Manager.SetReady(false)
	}
}

// Peer returns the attached peer, or nil.
func (b *Bridge) Peer() Sender {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer
}

// HandleMessage routes msg received from s and sends the role's reply.
func (b *Bridge) HandleMessage(s Sender, msg *wire.Message) error {
	if msg == nil {
		return nil
	}
	b.received.Add(1)

	switch {
	case msg.IsHeartbeat():
		b.heartbeats.Add(1)
	case msg.Kind == wire.KindDeviceData:
		if err := b.deliver(msg); err != nil {
			b.debugLog("device data dropped", "device", msg.Name, "error", err)
		}
	case b.cfg.Role == log.RoleRobot:
		b.cfg.Manager.Stage(msg)
	default:
		b.cfg.Manager.FileIncoming(msg)
	}

	if b.cfg.Role == log.RoleRobot {
		err := b.flushTo(s)
		if errors.Is(err, ErrNoPeer) {
			return nil
		}
		return err
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	return b.send(s, b.cfg.Manager.NextToSend())
}

// DrainDevices moves the pending writes of every dirty, idle device channel
// into the outbox as DEVICE_DATA messages. Busy channels are skipped. It
// returns the number of messages queued.
func (b *Bridge) DrainDevices() int {
	queued := 0
	b.cfg.Registry.ForEach(func(ch *device.Channel) {
		data, ok := ch.DrainWrite()
		if !ok {
			return
		}
		b.deviceBytesOut.Add(uint64(len(data)))
		b.cfg.Manager.RequestSendMessage(wire.DeviceDataMessage(ch.ID(), b.cfg.DeviceModule, data))
		queued++
	})
	return queued
}

// Flush sends every pending outbox message to the attached peer, oldest
// first. It returns ErrNoPeer when nothing is attached.
func (b *Bridge) Flush() error {
	return b.flushTo(b.Peer())
}

// Run drains devices and flushes the outbox every PumpInterval until ctx
// is done.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.DrainDevices()
			if err := b.Flush(); err != nil && !errors.Is(err, ErrNoPeer) {
				b.debugLog("flush failed", "error", err)
			}
		}
	}
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:       b.received.Load(),
		Heartbeats:     b.heartbeats.Load(),
		DeviceBytesIn:  b.deviceBytesIn.Load(),
		DeviceBytesOut: b.deviceBytesOut.Load(),
		Sent:           b.sent.Load(),
		SendErrors:     b.sendErrors.Load(),
	}
}

// Heartbeat returns the heartbeat task used for idle triggers.
func (b *Bridge) Heartbeat() *heartbeat.Task {
	return b.heartbeat
}

// OnMessage implements transport.ConnectionHandler.
func (b *Bridge) OnMessage(conn *transport.Connection, msg *wire.Message) {
	if err := b.HandleMessage(conn, msg); err != nil {
		b.debugLog("reply failed", "conn", conn.ID(), "error", err)
	}
}

// OnIdle implements transport.ConnectionHandler by sending a heartbeat now.
func (b *Bridge) OnIdle(conn *transport.Connection) {
	if err := b.heartbeat.Fire(conn); err != nil {
		b.debugLog("idle heartbeat failed", "conn", conn.ID(), "error", err)
	}
}

// OnStateChange implements transport.ConnectionHandler.
func (b *Bridge) OnStateChange(conn *transport.Connection, _, newState transport.ConnectionState) {
	switch newState {
	case transport.StateConnected:
		if err := b.Attach(conn); err != nil {
			b.debugLog("attach failed", "conn", conn.ID(), "error", err)
		}
	case transport.StateDisconnected:
		b.Detach(conn)
	}
}

// OnError implements transport.ConnectionHandler.
func (b *Bridge) OnError(conn *transport.Connection, err error) {
	b.debugLog("connection error", "conn", conn.ID(), "error", err)
}

func (b *Bridge) deliver(msg *wire.Message) error {
	data := msg.FirstData()
	if msg.Name == "" {
		return errors.New("device data without device id")
	}
	if err := b.cfg.Registry.Open(msg.Name).PushRead(data); err != nil {
		return err
	}
	b.deviceBytesIn.Add(uint64(len(data)))
	return nil
}

func (b *Bridge) flushTo(s Sender) error {
	if s == nil {
		return ErrNoPeer
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	for {
		msg, ok := b.cfg.Manager.TakeSend()
		if !ok {
			return nil
		}
		if err := b.send(s, msg); err != nil {
			return err
		}
	}
}

func (b *Bridge) send(s Sender, msg *wire.Message) error {
	if err := s.Send(msg); err != nil {
		b.sendErrors.Add(1)
		return err
	}
	b.sent.Add(1)
	return nil
}

func (b *Bridge) debugLog(msg string, args ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug(msg, args...)
	}
}

var _ transport.ConnectionHandler = (*Bridge)(nil)
