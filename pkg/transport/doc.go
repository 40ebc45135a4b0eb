// Package transport carries typed messages over TCP.
//
// The transport layer handles:
//   - Length-prefixed framing with accumulative decoding
//   - Message encoding and malformed-frame dropping
//   - Idle detection for heartbeat triggering
//   - Connection lifecycle and a connection-limited server
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Framing
//
// Every frame is a 4-byte big-endian payload length followed by exactly
// that many bytes. The decoder never consumes a partial frame. A payload
// that does not decode as a message is dropped and the stream continues
// with the next frame; there is no resynchronization search, so a wrong
// declared length desynchronizes the stream for good.
package transport
