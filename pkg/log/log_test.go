package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ftc-sim/simbridge/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return []Event{
		{
			Timestamp:    ts,
			ConnectionID: "conn-1",
			Direction:    DirectionOut,
			Layer:        LayerTransport,
			Category:     CategoryMessage,
			LocalRole:    RoleRobot,
			Frame:        &FrameEvent{Size: 12, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		},
		{
			Timestamp:    ts.Add(time.Millisecond),
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			DeviceID:     "AL00XYZ7",
			Message:      NewMessageEvent(wire.DeviceDataMessage("AL00XYZ7", wire.ModuleDeviceInterface, []byte{9}), true),
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond),
			Layer:     LayerDevice,
			Category:  CategoryDevice,
			DeviceID:  "AL00XYZ7",
			Device:    &DeviceEvent{Op: DeviceOpDrain, Count: 3, Data: []byte{1, 2, 3}},
		},
		{
			Timestamp:    ts.Add(3 * time.Millisecond),
			ConnectionID: "conn-2",
			Direction:    DirectionIn,
			Layer:        LayerTransport,
			Category:     CategoryError,
			Error: &ErrorEventData{
				Layer:   LayerWire,
				Message: "malformed frame",
				Code:    ErrorCode(ErrorCodeMalformed),
			},
		},
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	for _, ev := range sampleEvents() {
		t.Run(ev.Category.String(), func(t *testing.T) {
			data, err := EncodeEvent(ev)
			require.NoError(t, err)

			got, err := DecodeEvent(data)
			require.NoError(t, err)

			assert.True(t, ev.Timestamp.Equal(got.Timestamp), "timestamp precision lost")
			assert.Equal(t, ev.ConnectionID, got.ConnectionID)
			assert.Equal(t, ev.Layer, got.Layer)
			assert.Equal(t, ev.Category, got.Category)
			assert.Equal(t, ev.DeviceID, got.DeviceID)
			assert.Equal(t, ev.Device != nil, got.Device != nil)
			assert.Equal(t, ev.Error != nil, got.Error != nil)
			if ev.Message != nil {
				require.NotNil(t, got.Message)
				assert.Equal(t, ev.Message.Kind, got.Message.Kind)
				assert.Equal(t, ev.Message.Payload, got.Message.Payload)
			}
		})
	}
}

func TestNewMessageEventWithoutPayload(t *testing.T) {
	ev := NewMessageEvent(wire.GreetingMessage(), false)
	assert.Equal(t, wire.KindLegacyMotor, ev.Kind)
	assert.Equal(t, 1, ev.Fields)
	assert.Nil(t, ev.Payload)
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, ev := range sampleEvents() {
		fl.Log(ev)
	}
	assert.Equal(t, 4, fl.Count())
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())

	// Ignored after close.
	fl.Log(sampleEvents()[0])

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var n int
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 4, n)
}

func countEvents(t *testing.T, path string) int {
	t.Helper()
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var n int
	for {
		_, err := r.Next()
		if err == io.EOF {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestFileLoggerFlushesOnStateAndError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	defer fl.Close()

	fl.Log(Event{Layer: LayerTransport, Category: CategoryMessage, Frame: &FrameEvent{Size: 8}})
	assert.Zero(t, countEvents(t, path), "frame events stay buffered")

	fl.Log(Event{
		Layer:       LayerService,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityConnection, NewState: "DISCONNECTED"},
	})
	assert.Equal(t, 2, countEvents(t, path))

	fl.Log(Event{Layer: LayerDevice, Category: CategoryDevice, Device: &DeviceEvent{Op: DeviceOpWrite, Count: 1}})
	require.NoError(t, fl.Flush())
	assert.Equal(t, 3, countEvents(t, path))
	assert.Zero(t, fl.Dropped())
}

func TestFileLoggerStartsFreshCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	for run := 0; run < 2; run++ {
		fl, err := NewFileLogger(path)
		require.NoError(t, err)
		for _, ev := range sampleEvents() {
			fl.Log(ev)
		}
		require.NoError(t, fl.Close())
	}
	assert.Equal(t, len(sampleEvents()), countEvents(t, path))
}

func TestFilteredReader(t *testing.T) {
	var buf bytes.Buffer
	enc := newEventEncoder(&buf)
	for _, ev := range sampleEvents() {
		require.NoError(t, enc.Encode(ev))
	}

	layer := LayerTransport
	r := NewStreamReader(&buf, Filter{Layer: &layer})
	var got []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "conn-1", got[0].ConnectionID)
	assert.Equal(t, "conn-2", got[1].ConnectionID)
	assert.NoError(t, r.Close())
}

func TestFilterMatches(t *testing.T) {
	events := sampleEvents()
	in := DirectionIn
	errCat := CategoryError
	start := events[1].Timestamp
	end := events[3].Timestamp

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty", Filter{}, 4},
		{"connection", Filter{ConnectionID: "conn-1"}, 2},
		{"device", Filter{DeviceID: "AL00XYZ7"}, 2},
		{"direction in", Filter{Direction: &in}, 3},
		{"category", Filter{Category: &errCat}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			for _, ev := range events {
				if tt.filter.Matches(ev) {
					n++
				}
			}
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestMultiLoggerSkipsNil(t *testing.T) {
	a := NewMemoryLogger(10)
	b := NewMemoryLogger(10)
	m := NewMultiLogger(a, nil, b)
	assert.Equal(t, 2, m.Len())

	m.Log(sampleEvents()[0])
	assert.Len(t, a.Events(Filter{}), 1)
	assert.Len(t, b.Events(Filter{}), 1)
}

func TestMemoryLoggerEvictsOldest(t *testing.T) {
	m := NewMemoryLogger(2)
	for i, ev := range sampleEvents() {
		ev.ConnectionID = string(rune('a' + i))
		m.Log(ev)
	}
	got := m.Events(Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ConnectionID)
	assert.Equal(t, "d", got[1].ConnectionID)

	m.Reset()
	assert.Empty(t, m.Events(Filter{}))
}

func TestEmitNilLogger(t *testing.T) {
	Emit(nil, Event{})
	m := NewMemoryLogger(1)
	Emit(m, Event{ConnectionID: "x"})
	assert.Len(t, m.Events(Filter{}), 1)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	for _, ev := range sampleEvents() {
		a.Log(ev)
	}

	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, "msg=bridge"))
	assert.Contains(t, out, "frame_size=12")
	assert.Contains(t, out, "kind=DEVICE_DATA")
	assert.Contains(t, out, "op=DRAIN")
	assert.Contains(t, out, "error_code=1")
	assert.Contains(t, out, "role=ROBOT")
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "DEVICE", LayerDevice.String())
	assert.Equal(t, "HEARTBEAT", CategoryHeartbeat.String())
	assert.Equal(t, "SIMULATOR", RoleSimulator.String())
	assert.Equal(t, "READINESS", StateEntityReadiness.String())
	assert.Equal(t, "PURGE", DeviceOpPurge.String())
	assert.Equal(t, "UNKNOWN", Layer(99).String())
}
