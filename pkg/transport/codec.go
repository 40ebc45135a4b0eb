package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ftc-sim/simbridge/pkg/bytequeue"
	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// ErrMalformedFrame reports a frame whose payload is not a valid message.
var ErrMalformedFrame = errors.New("malformed frame")

// MessageCodec turns a framed byte stream into messages.
//
// Decoding is stateful: Feed accepts partial input and returns every
// message completed by it. Frames that cannot be decoded are dropped,
// counted and reported to the protocol logger; the stream continues with
// the next frame.
type MessageCodec struct {
	decoder *FrameDecoder

	logger         *slog.Logger
	protocolLogger log.Logger
	connID         string

	dropped atomic.Uint64
}

// NewMessageCodec creates a codec with the given payload size limit.
// A zero maxSize selects DefaultMaxMessageSize.
func NewMessageCodec(maxSize uint32) *MessageCodec {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &MessageCodec{
		decoder: NewFrameDecoder(maxSize),
	}
}

// SetLogger sets the operational logger. Pass nil to disable.
func (c *MessageCodec) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetProtocolLogger configures frame and error capture. Pass nil to disable.
func (c *MessageCodec) SetProtocolLogger(logger log.Logger, connID string) {
	c.protocolLogger = logger
	c.connID = connID
	c.decoder.SetLogger(logger, connID)
}

// Feed buffers p and decodes every complete frame. Only buffer growth
// failures are returned; bad frames are dropped.
func (c *MessageCodec) Feed(p []byte) ([]*wire.Message, error) {
	if err := c.decoder.Feed(p); err != nil {
		return nil, err
	}

	var out []*wire.Message
	for {
		payload, ok, err := c.decoder.Next()
		if err != nil {
			if errors.Is(err, bytequeue.ErrUnderflow) {
				return out, err
			}
			code := log.ErrorCodeMalformed
			if errors.Is(err, ErrMessageTooLarge) {
				code = log.ErrorCodeTooLarge
			}
			c.drop(err, code)
			continue
		}
		if !ok {
			return out, nil
		}

		msg, err := wire.DecodeMessage(payload)
		if err != nil {
			c.drop(fmt.Errorf("%w: %v", ErrMalformedFrame, err), log.ErrorCodeMalformed)
			continue
		}
		out = append(out, msg)
	}
}

// Dropped returns how many frames have been discarded.
func (c *MessageCodec) Dropped() uint64 {
	return c.dropped.Load()
}

// Buffered returns the number of undecoded bytes held.
func (c *MessageCodec) Buffered() int {
	return c.decoder.Buffered()
}

// Reset discards any partially received frame.
func (c *MessageCodec) Reset() {
	c.decoder.Reset()
}

func (c *MessageCodec) drop(err error, code int) {
	c.dropped.Add(1)
	if c.logger != nil {
		c.logger.Debug("dropping frame", slog.String("conn_id", c.connID), slog.Any("error", err))
	}
	log.Emit(c.protocolLogger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Code:    log.ErrorCode(code),
			Context: "decode frame",
		},
	})
}
