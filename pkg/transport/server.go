package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/ftc-sim/simbridge/pkg/log"
)

// DefaultPort is the default robot listen port.
const DefaultPort = 6000

// DefaultMaxConnections is the default number of simultaneously served
// clients.
const DefaultMaxConnections = 1

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (default ":6000").
	Address string

	// MaxConnections is the number of clients served at once (default 1).
	// Further clients are accepted and closed immediately.
	MaxConnections int

	// Connection configures every accepted connection.
	Connection ConnectionConfig

	// Handler receives events for every accepted connection.
	Handler ConnectionHandler

	// OnConnect is called after a connection starts.
	OnConnect func(conn *Connection)

	// OnDisconnect is called after a connection has stopped reading.
	OnDisconnect func(conn *Connection)

	// OnReject is called when a client is turned away.
	OnReject func(addr net.Addr)
}

// Server accepts framed message connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*Connection]struct{}
	connsMu sync.RWMutex

	rejected atomic.Uint64

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultMaxConnections
	}
	config.Connection.applyDefaults()

	return &Server{
		config: config,
		conns:  make(map[*Connection]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// One extra socket so surplus clients can be accepted and refused
	// instead of waiting in the backlog.
	s.listener = netutil.LimitListener(listener, s.config.MaxConnections+1)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		<-s.ctx.Done()
		s.listener.Close()
	}()

	return nil
}

// Stop closes the listener and every connection, then waits for the
// connection goroutines.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.RLock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns a snapshot of active connections.
func (s *Server) Connections() []*Connection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Rejected returns how many clients have been turned away.
func (s *Server) Rejected() uint64 {
	return s.rejected.Load()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.debugLog("accept error", slog.Any("error", err))
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	s.connsMu.Lock()
	if len(s.conns) >= s.config.MaxConnections || !s.running.Load() {
		s.connsMu.Unlock()
		s.reject(netConn)
		return
	}
	c := NewConnection(netConn, s.config.Connection, s.config.Handler)
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	s.debugLog("client connected",
		slog.String("conn_id", c.ID()),
		slog.String("remote", addrString(netConn.RemoteAddr())))

	if err := c.Start(s.ctx); err == nil {
		if s.config.OnConnect != nil {
			s.config.OnConnect(c)
		}
		<-c.Done()
	}
	c.Close()

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	s.debugLog("client disconnected", slog.String("conn_id", c.ID()))
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) reject(netConn net.Conn) {
	s.rejected.Add(1)
	addr := netConn.RemoteAddr()
	netConn.Close()

	s.debugLog("client rejected", slog.String("remote", addrString(addr)))
	log.Emit(s.config.Connection.ProtocolLogger, log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		LocalRole:  s.config.Connection.Role,
		RemoteAddr: addrString(addr),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			NewState: StateDisconnected.String(),
			Reason:   "connection limit reached",
		},
	})
	if s.config.OnReject != nil {
		s.config.OnReject(addr)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Connection.Logger != nil {
		s.config.Connection.Logger.Debug(msg, args...)
	}
}
