package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	// StateDisconnected indicates the socket is closed.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates the socket is open but not yet serving.
	StateConnecting

	// StateConnected indicates the read loop is running.
	StateConnected

	// StateClosing indicates Close is in progress.
	StateClosing
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection defaults.
const (
	DefaultReadBufferSize = 4096
	DefaultDialTimeout    = 10 * time.Second
)

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// MaxMessageSize is the largest accepted payload (default: 64KB).
	MaxMessageSize uint32

	// IdleTimeout is the time without traffic before the handler's OnIdle
	// runs (default: 2s). Negative disables idle detection.
	IdleTimeout time.Duration

	// WriteTimeout bounds each frame write (0 = no deadline).
	WriteTimeout time.Duration

	// DialTimeout bounds Dial when ctx has no deadline (default: 10s).
	DialTimeout time.Duration

	// ReadBufferSize is the socket read chunk size (default: 4096).
	ReadBufferSize int

	// Role is recorded in protocol events.
	Role log.Role

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// DefaultConnectionConfig returns the default connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxMessageSize: DefaultMaxMessageSize,
		IdleTimeout:    DefaultIdleTimeout,
		DialTimeout:    DefaultDialTimeout,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

func (c *ConnectionConfig) applyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
}

// ConnectionHandler receives connection events. Callbacks run on the
// connection's read loop (OnMessage) or idle monitor (OnIdle) goroutine.
type ConnectionHandler interface {
	// OnMessage is called for every decoded message.
	OnMessage(conn *Connection, msg *wire.Message)

	// OnIdle is called when no traffic has passed for the idle timeout.
	OnIdle(conn *Connection)

	// OnStateChange is called on every state transition.
	OnStateChange(conn *Connection, oldState, newState ConnectionState)

	// OnError is called for read and decode failures.
	OnError(conn *Connection, err error)
}

// ConnectionStats is a snapshot of connection counters.
type ConnectionStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	FramesDropped    uint64
	IdleFired        uint64
	LastActivity     time.Time
}

// Connection is a framed message stream over a TCP socket.
type Connection struct {
	id      string
	config  ConnectionConfig
	handler ConnectionHandler

	conn   net.Conn
	writer *FrameWriter
	codec  *MessageCodec
	idle   *IdleMonitor

	state     atomic.Int32
	closeOnce sync.Once
	closeCh   chan struct{}
	doneOnce  sync.Once
	doneCh    chan struct{}

	sent     atomic.Uint64
	received atomic.Uint64
}

// NewConnection wraps an established socket. Call Start to begin reading.
func NewConnection(conn net.Conn, config ConnectionConfig, handler ConnectionHandler) *Connection {
	config.applyDefaults()

	c := &Connection{
		id:      uuid.New().String(),
		config:  config,
		handler: handler,
		conn:    conn,
		writer:  NewFrameWriterWithMaxSize(conn, config.MaxMessageSize),
		codec:   NewMessageCodec(config.MaxMessageSize),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	c.codec.SetLogger(config.Logger)
	if config.ProtocolLogger != nil {
		c.writer.SetLogger(config.ProtocolLogger, c.id)
		c.codec.SetProtocolLogger(config.ProtocolLogger, c.id)
	}
	if config.IdleTimeout > 0 {
		c.idle = NewIdleMonitor(config.IdleTimeout, c.handleIdle)
	}
	return c
}

// Dial connects to address and starts the connection. The connection
// lives until ctx is cancelled or Close is called.
func Dial(ctx context.Context, address string, config ConnectionConfig, handler ConnectionHandler) (*Connection, error) {
	config.applyDefaults()

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := NewConnection(conn, config, handler)
	if err := c.Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// ID returns the unique connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LocalAddr returns the local network address.
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed once the connection has stopped reading.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() ConnectionStats {
	s := ConnectionStats{
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		FramesDropped:    c.codec.Dropped(),
	}
	if c.idle != nil {
		s.IdleFired = c.idle.Fired()
		s.LastActivity = c.idle.LastActivity()
	}
	return s
}

// Start begins the read loop and idle monitor. Cancelling ctx closes the
// connection.
func (c *Connection) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return ErrConnectionClosed
	}
	c.notifyStateChange(StateConnecting, StateConnected, "")

	if c.idle != nil {
		c.idle.Start(ctx)
	}
	go c.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closeCh:
		}
	}()
	return nil
}

// Send encodes and writes a message.
func (c *Connection) Send(msg *wire.Message) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.writer.WriteFrame(payload); err != nil {
		if c.State() != StateConnected {
			return ErrConnectionClosed
		}
		return err
	}

	c.sent.Add(1)
	if c.idle != nil {
		c.idle.Touch()
	}
	c.logMessage(msg, log.DirectionOut)
	return nil
}

// Close closes the socket. It is safe to call more than once and from
// handler callbacks.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosing))
		c.notifyStateChange(old, StateClosing, "")

		close(c.closeCh)
		if c.idle != nil {
			c.idle.Stop()
		}
		err = c.conn.Close()

		// Without a read loop nobody else will signal completion.
		if old == StateConnecting {
			c.markDone()
		}

		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateClosing, StateDisconnected, "")
	})
	return err
}

func (c *Connection) readLoop() {
	defer c.markDone()

	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if c.idle != nil {
				c.idle.Touch()
			}
			msgs, ferr := c.codec.Feed(buf[:n])
			for _, msg := range msgs {
				c.received.Add(1)
				c.logMessage(msg, log.DirectionIn)
				if c.handler != nil {
					c.handler.OnMessage(c, msg)
				}
			}
			if ferr != nil {
				c.reportError(fmt.Errorf("decode buffer: %w", ferr))
				c.Close()
				return
			}
		}
		if err != nil {
			if !c.closing() && !errors.Is(err, io.EOF) {
				c.reportError(fmt.Errorf("read error: %w", err))
			}
			c.Close()
			return
		}
	}
}

func (c *Connection) handleIdle() {
	if c.State() != StateConnected {
		return
	}
	if c.config.Logger != nil {
		c.config.Logger.Debug("connection idle", slog.String("conn_id", c.id))
	}
	if c.handler != nil {
		c.handler.OnIdle(c)
	}
}

func (c *Connection) closing() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Connection) markDone() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

func (c *Connection) reportError(err error) {
	if c.config.Logger != nil {
		c.config.Logger.Warn("connection error", slog.String("conn_id", c.id), slog.Any("error", err))
	}
	if c.handler != nil {
		c.handler.OnError(c, err)
	}
}

func (c *Connection) notifyStateChange(oldState, newState ConnectionState, reason string) {
	log.Emit(c.config.ProtocolLogger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    c.config.Role,
		RemoteAddr:   addrString(c.conn.RemoteAddr()),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
	if c.handler != nil {
		c.handler.OnStateChange(c, oldState, newState)
	}
}

func (c *Connection) logMessage(msg *wire.Message, direction log.Direction) {
	if c.config.ProtocolLogger == nil {
		return
	}
	category := log.CategoryMessage
	if msg.IsHeartbeat() {
		category = log.CategoryHeartbeat
	}
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    direction,
		Layer:        log.LayerWire,
		Category:     category,
		LocalRole:    c.config.Role,
		Message:      log.NewMessageEvent(msg, false),
	}
	if msg.Kind == wire.KindDeviceData {
		ev.DeviceID = msg.Name
	}
	c.config.ProtocolLogger.Log(ev)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
