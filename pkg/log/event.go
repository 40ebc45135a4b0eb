package log

import (
	"time"

	"github.com/ftc-sim/simbridge/pkg/wire"
)

// Event is one captured bridge event. Exactly one of the typed payloads is
// set. CBOR encoding uses integer keys.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint,omitempty"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`

	// DeviceID names the device channel for device-layer events and for
	// DEVICE_DATA messages.
	DeviceID string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Device      *DeviceEvent      `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction of data flow relative to the local endpoint.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer is where an event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the decoded message layer.
	LayerWire Layer = 1
	// LayerDevice is the emulated device channel layer.
	LayerDevice Layer = 2
	// LayerService is the bridge service layer.
	LayerService Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDevice:
		return "DEVICE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage   Category = 0
	CategoryHeartbeat Category = 1
	CategoryState     Category = 2
	CategoryError     Category = 3
	CategoryDevice    Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryHeartbeat:
		return "HEARTBEAT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Role is the local endpoint's role in the bridge.
type Role uint8

const (
	RoleUnknown   Role = 0
	RoleRobot     Role = 1
	RoleSimulator Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleRobot:
		return "ROBOT"
	case RoleSimulator:
		return "SIMULATOR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size includes the length prefix.
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded message.
type MessageEvent struct {
	Kind   wire.Kind   `cbor:"1,keyasint"`
	Module wire.Module `cbor:"2,keyasint"`
	Name   string      `cbor:"3,keyasint,omitempty"`

	// Fields is the number of payload fields.
	Fields int `cbor:"4,keyasint,omitempty"`

	// Payload holds the payload field bytes, when captured.
	Payload [][]byte `cbor:"5,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent from a message, capturing payload
// bytes only when withPayload is set.
func NewMessageEvent(msg *wire.Message, withPayload bool) *MessageEvent {
	ev := &MessageEvent{
		Kind:   msg.Kind,
		Module: msg.Module,
		Name:   msg.Name,
		Fields: len(msg.Payload),
	}
	if withPayload && len(msg.Payload) > 0 {
		ev.Payload = make([][]byte, len(msg.Payload))
		for i, f := range msg.Payload {
			ev.Payload[i] = f.Data
		}
	}
	return ev
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityReadiness  StateEntity = 1
	StateEntityDevice     StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityReadiness:
		return "READINESS"
	case StateEntityDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// DeviceOp is the device channel operation that produced an event.
type DeviceOp uint8

const (
	DeviceOpWrite DeviceOp = 0
	DeviceOpRead  DeviceOp = 1
	DeviceOpDrain DeviceOp = 2
	DeviceOpFeed  DeviceOp = 3
	DeviceOpPurge DeviceOp = 4
)

// String returns the operation name.
func (o DeviceOp) String() string {
	switch o {
	case DeviceOpWrite:
		return "WRITE"
	case DeviceOpRead:
		return "READ"
	case DeviceOpDrain:
		return "DRAIN"
	case DeviceOpFeed:
		return "FEED"
	case DeviceOpPurge:
		return "PURGE"
	default:
		return "UNKNOWN"
	}
}

// DeviceEvent captures byte traffic through a device channel.
type DeviceEvent struct {
	Op    DeviceOp `cbor:"1,keyasint"`
	Count int      `cbor:"2,keyasint"`
	Data  []byte   `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is one of the ErrorCode constants, when applicable.
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}

// Error codes carried in ErrorEventData.Code.
const (
	ErrorCodeMalformed    = 1
	ErrorCodeTooLarge     = 2
	ErrorCodeSendFailed   = 3
	ErrorCodeDisconnected = 4
)

// ErrorCode returns a pointer to code for use in ErrorEventData.
func ErrorCode(code int) *int {
	return &code
}
