package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ftc-sim/simbridge/pkg/bytequeue"
	"github.com/ftc-sim/simbridge/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum payload size (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize caps the frame bytes copied into log events.
	MaxLogFrameDataSize = 4096

	// initialDecodeBuffer is the starting capacity of a FrameDecoder buffer.
	initialDecodeBuffer = 1024
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	logger log.Logger
	connID string
}

// NewFrameWriter creates a frame writer with the default size limit.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom size limit.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures frame capture. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes the prefix and payload with a single Write call.
// Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	frame := AppendFrame(make([]byte, 0, FrameSize(len(data))), data)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, err := fw.w.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrFrameTruncated, n, len(frame))
	}

	if fw.logger != nil {
		fw.logger.Log(frameEvent(fw.connID, data, log.DirectionOut))
	}
	return nil
}

// FrameDecoder assembles frames from arbitrarily split input.
//
// Bytes are consumed only when a complete frame is available; a partial
// prefix or payload stays buffered until more input arrives.
type FrameDecoder struct {
	buf            *bytequeue.Queue
	maxMessageSize uint32
	prefix         [LengthPrefixSize]byte

	logger log.Logger
	connID string
}

// NewFrameDecoder creates a decoder accepting payloads up to maxSize bytes.
// A zero maxSize selects DefaultMaxMessageSize.
func NewFrameDecoder(maxSize uint32) *FrameDecoder {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	buf, _ := bytequeue.NewWithCapacity(initialDecodeBuffer)
	return &FrameDecoder{
		buf:            buf,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures frame capture. Pass nil to disable.
func (d *FrameDecoder) SetLogger(logger log.Logger, connID string) {
	d.logger = logger
	d.connID = connID
}

// Feed appends received bytes.
func (d *FrameDecoder) Feed(p []byte) error {
	return d.buf.PushAll(p)
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *FrameDecoder) Buffered() int {
	return d.buf.Len()
}

// Next returns the next complete frame payload. ok is false when more
// input is needed, in which case nothing was consumed.
//
// A zero or oversized length prefix is discarded on its own and reported
// as ErrMessageEmpty or ErrMessageTooLarge; decoding resumes at the
// following four bytes.
func (d *FrameDecoder) Next() (payload []byte, ok bool, err error) {
	if d.buf.Peek(d.prefix[:]) < LengthPrefixSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(d.prefix[:])

	if length == 0 {
		_ = d.buf.Discard(LengthPrefixSize)
		return nil, false, ErrMessageEmpty
	}
	if length > d.maxMessageSize {
		_ = d.buf.Discard(LengthPrefixSize)
		return nil, false, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, d.maxMessageSize)
	}
	if d.buf.Len() < LengthPrefixSize+int(length) {
		return nil, false, nil
	}

	_ = d.buf.Discard(LengthPrefixSize)
	payload = make([]byte, length)
	if _, err := d.buf.PopInto(payload); err != nil {
		return nil, false, err
	}

	if d.logger != nil {
		d.logger.Log(frameEvent(d.connID, payload, log.DirectionIn))
	}
	return payload, true, nil
}

// Reset drops all buffered bytes.
func (d *FrameDecoder) Reset() {
	d.buf.Clear()
}

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

func frameEvent(connID string, data []byte, direction log.Direction) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}
