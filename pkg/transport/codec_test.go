package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

func encodeFrames(t *testing.T, msgs ...*wire.Message) []byte {
	t.Helper()
	var stream []byte
	for _, m := range msgs {
		payload, err := wire.EncodeMessage(m)
		require.NoError(t, err)
		stream = AppendFrame(stream, payload)
	}
	return stream
}

func testMessages() []*wire.Message {
	return []*wire.Message{
		wire.NewMessage(wire.KindMotorData, wire.ModuleMotorController, wire.TextField("x")),
		wire.GreetingMessage(),
		wire.DeviceDataMessage("A", wire.ModuleDeviceInterface, []byte{1, 2, 3}),
		wire.HeartbeatMessage(),
	}
}

func TestMessageCodecWholeVersusByteByByte(t *testing.T) {
	msgs := testMessages()
	stream := encodeFrames(t, msgs...)

	whole := NewMessageCodec(0)
	gotWhole, err := whole.Feed(stream)
	require.NoError(t, err)

	split := NewMessageCodec(0)
	var gotSplit []*wire.Message
	for _, b := range stream {
		out, err := split.Feed([]byte{b})
		require.NoError(t, err)
		gotSplit = append(gotSplit, out...)
	}

	require.Len(t, gotWhole, len(msgs))
	require.Len(t, gotSplit, len(msgs))
	for i := range msgs {
		assert.True(t, wire.Equal(msgs[i], gotWhole[i]), "whole %d: %v", i, gotWhole[i])
		assert.True(t, wire.Equal(msgs[i], gotSplit[i]), "split %d: %v", i, gotSplit[i])
	}
	assert.Zero(t, whole.Buffered())
	assert.Zero(t, split.Buffered())
}

func TestMessageCodecDropsMalformed(t *testing.T) {
	logger := log.NewMemoryLogger(10)
	codec := NewMessageCodec(0)
	codec.SetProtocolLogger(logger, "c1")

	good := wire.NewMessage(wire.KindServoData, wire.ModuleServoController, wire.BytesField([]byte{5}))
	var stream []byte
	stream = AppendFrame(stream, []byte{0xFF, 0xFE, 0xFD})
	stream = append(stream, encodeFrames(t, good)...)

	out, err := codec.Feed(stream)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, wire.KindServoData, out[0].Kind)
	assert.Equal(t, uint64(1), codec.Dropped())

	cat := log.CategoryError
	errs := logger.Events(log.Filter{Category: &cat})
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].Error)
	assert.Equal(t, log.ErrorCodeMalformed, *errs[0].Error.Code)
	assert.Equal(t, "c1", errs[0].ConnectionID)
}

func TestMessageCodecUnknownKindIsMalformed(t *testing.T) {
	codec := NewMessageCodec(0)
	payload, err := wire.Marshal(map[int]any{1: 0, 2: 1})
	require.NoError(t, err)

	out, err := codec.Feed(AppendFrame(nil, payload))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, uint64(1), codec.Dropped())
}

func TestMessageCodecOversizedPrefix(t *testing.T) {
	codec := NewMessageCodec(64)
	stream := []byte{0, 0, 1, 0}
	stream = append(stream, encodeFrames(t, wire.HeartbeatMessage())...)

	out, err := codec.Feed(stream)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].IsHeartbeat())
	assert.Equal(t, uint64(1), codec.Dropped())
}
