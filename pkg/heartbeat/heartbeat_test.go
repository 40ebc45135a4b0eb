package heartbeat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

type stubSender struct {
	sent []*wire.Message
	err  error
}

func (s *stubSender) Send(msg *wire.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestMessageIsWellKnown(t *testing.T) {
	task := New(Config{})
	msg := task.Message()
	assert.True(t, msg.IsHeartbeat())
	assert.Equal(t, wire.KindOptData2, msg.Kind)
	assert.Equal(t, wire.HeartbeatName, msg.Name)
	assert.NotSame(t, msg, task.Message(), "each call returns a new message")
}

func TestFallbackCounts(t *testing.T) {
	task := New(Config{})
	for i := 0; i < 3; i++ {
		assert.True(t, task.Fallback().IsHeartbeat())
	}
	s := task.Stats()
	assert.Equal(t, uint64(3), s.Fallbacks)
	assert.Zero(t, s.Fired)
	assert.True(t, s.LastFired.IsZero())
}

func TestFireSendsImmediately(t *testing.T) {
	task := New(Config{})
	sender := &stubSender{}

	require.NoError(t, task.Fire(sender))
	require.Len(t, sender.sent, 1)
	assert.True(t, sender.sent[0].IsHeartbeat())

	s := task.Stats()
	assert.Equal(t, uint64(1), s.Fired)
	assert.False(t, s.LastFired.IsZero())
}

func TestFireFailure(t *testing.T) {
	logger := log.NewMemoryLogger(8)
	task := New(Config{ProtocolLogger: logger, ConnectionID: "c1"})
	boom := errors.New("broken pipe")

	err := task.Fire(&stubSender{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), task.Stats().Failed)

	events := logger.Events(log.Filter{Category: ptr(log.CategoryError)})
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].ConnectionID)
	require.NotNil(t, events[0].Error.Code)
	assert.Equal(t, log.ErrorCodeSendFailed, *events[0].Error.Code)
}

func TestFireWithoutSender(t *testing.T) {
	assert.ErrorIs(t, New(Config{}).Fire(nil), ErrNoSender)
}

func ptr[T any](v T) *T { return &v }
