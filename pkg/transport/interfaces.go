package transport

import (
	"context"
	"net"

	"github.com/ftc-sim/simbridge/pkg/wire"
)

// MessageSender sends typed messages. Implemented by Connection.
type MessageSender interface {
	Send(msg *wire.Message) error
}

// TransportServer represents a listening transport.
// Implemented by Server.
type TransportServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

// FrameSink writes whole frames. Implemented by FrameWriter.
type FrameSink interface {
	WriteFrame(data []byte) error
}

var (
	_ MessageSender   = (*Connection)(nil)
	_ TransportServer = (*Server)(nil)
	_ FrameSink       = (*FrameWriter)(nil)
)
