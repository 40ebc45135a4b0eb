package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftc-sim/simbridge/pkg/wire"
)

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	cfg.Connection.IdleTimeout = -1
	s, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestNewServerRequiresHandler(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestServerGreetsAndEchoes(t *testing.T) {
	serverHandler := newRecordingHandler()
	connected := make(chan *Connection, 1)
	s := startServer(t, ServerConfig{
		Handler: serverHandler,
		OnConnect: func(c *Connection) {
			_ = c.Send(wire.GreetingMessage())
			connected <- c
		},
	})

	clientHandler := newRecordingHandler()
	cfg := DefaultConnectionConfig()
	cfg.IdleTimeout = -1
	client, err := Dial(context.Background(), s.Addr().String(), cfg, clientHandler)
	require.NoError(t, err)
	defer client.Close()

	greeting := clientHandler.waitMessage(t)
	assert.Equal(t, wire.KindLegacyMotor, greeting.Kind)
	assert.Equal(t, []byte{34, 43, 90}, greeting.FirstData())

	require.NoError(t, client.Send(wire.NewMessage(wire.KindOptData, wire.ModuleRobot, wire.TextField("ping"))))
	got := serverHandler.waitMessage(t)
	assert.Equal(t, "ping", got.Payload[0].String())

	<-connected
	assert.Equal(t, 1, s.ConnectionCount())
	assert.Len(t, s.Connections(), 1)
}

func TestServerRejectsBeyondLimit(t *testing.T) {
	rejected := make(chan net.Addr, 4)
	s := startServer(t, ServerConfig{
		MaxConnections: 1,
		Handler:        newRecordingHandler(),
		OnReject:       func(a net.Addr) { rejected <- a },
	})

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("second client was not rejected")
	}

	// The rejected socket reads EOF.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), s.Rejected())
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestServerSlotFreedAfterDisconnect(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	s := startServer(t, ServerConfig{
		Handler:      newRecordingHandler(),
		OnDisconnect: func(*Connection) { disconnected <- struct{}{} },
	})

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	first.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Rejected())
}

func TestServerStopClosesConnections(t *testing.T) {
	s := startServer(t, ServerConfig{Handler: newRecordingHandler()})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, s.ConnectionCount())
	require.NoError(t, s.Stop())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServerDoubleStart(t *testing.T) {
	s := startServer(t, ServerConfig{Handler: newRecordingHandler()})
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerRunning)
}
