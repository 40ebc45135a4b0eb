package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Message validation errors.
var (
	ErrInvalidKind   = errors.New("invalid message kind")
	ErrInvalidModule = errors.New("invalid message module")
)

// Kind is the type tag of a message.
type Kind uint8

const (
	// KindUnknown is the zero value and never valid on the wire.
	KindUnknown Kind = 0

	// KindMotorData carries motor controller state.
	KindMotorData Kind = 1

	// KindServoData carries servo controller state.
	KindServoData Kind = 2

	// KindLegacyMotor carries legacy motor controller info.
	KindLegacyMotor Kind = 3

	// KindLegacyServo carries legacy servo controller info.
	KindLegacyServo Kind = 4

	// KindLegacySensor carries legacy sensor readings.
	KindLegacySensor Kind = 5

	// KindDeviceData carries raw bytes for a simulated device channel.
	// Name holds the device identifier.
	KindDeviceData Kind = 6

	// KindOptData is a general-purpose optional payload.
	KindOptData Kind = 7

	// KindOptData2 is the keep-alive kind.
	KindOptData2 Kind = 8

	// KindHeartbeat is an alias for the keep-alive kind.
	KindHeartbeat = KindOptData2
)

var kindNames = map[Kind]string{
	KindUnknown:      "UNKNOWN",
	KindMotorData:    "MOTOR_DATA",
	KindServoData:    "SERVO_DATA",
	KindLegacyMotor:  "LEGACY_MOTOR",
	KindLegacyServo:  "LEGACY_SERVO",
	KindLegacySensor: "LEGACY_SENSOR",
	KindDeviceData:   "DEVICE_DATA",
	KindOptData:      "OPT_DATA",
	KindOptData2:     "OPT_DATA2",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// IsValid returns true for every defined kind except KindUnknown.
func (k Kind) IsValid() bool {
	return k > KindUnknown && k <= KindOptData2
}

// ParseKind parses a kind name such as "MOTOR_DATA" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s && k.IsValid() {
			return k, nil
		}
	}
	if s == "HEARTBEAT" {
		return KindHeartbeat, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Kinds returns all valid kinds in ascending order.
func Kinds() []Kind {
	out := make([]Kind, 0, int(KindOptData2))
	for k := KindMotorData; k <= KindOptData2; k++ {
		out = append(out, k)
	}
	return out
}

// Module identifies the logical subsystem a message addresses.
type Module uint8

const (
	ModuleUnknown          Module = 0
	ModuleLegacyController Module = 1
	ModuleMotorController  Module = 2
	ModuleServoController  Module = 3
	ModuleDeviceInterface  Module = 4
	ModuleRobot            Module = 5
)

var moduleNames = map[Module]string{
	ModuleUnknown:          "UNKNOWN",
	ModuleLegacyController: "LEGACY_CONTROLLER",
	ModuleMotorController:  "MOTOR_CONTROLLER",
	ModuleServoController:  "SERVO_CONTROLLER",
	ModuleDeviceInterface:  "DEVICE_INTERFACE",
	ModuleRobot:            "ROBOT",
}

// String returns the module name.
func (m Module) String() string {
	if name, ok := moduleNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MODULE(%d)", uint8(m))
}

// IsValid returns true for defined modules, including ModuleUnknown.
func (m Module) IsValid() bool {
	return m <= ModuleRobot
}

// ParseModule parses a module name such as "MOTOR_CONTROLLER" (case-insensitive).
func ParseModule(s string) (Module, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for m, name := range moduleNames {
		if name == s {
			return m, nil
		}
	}
	return ModuleUnknown, fmt.Errorf("%w: %q", ErrInvalidModule, s)
}

// Field is one opaque payload entry. Text marks fields that were supplied
// as strings so they can be rendered back as text.
//
// CBOR encoding:
//
//	{
//	  1: data,    // bytes
//	  2: isText   // bool, omitted when false
//	}
type Field struct {
	Data []byte `cbor:"1,keyasint"`
	Text bool   `cbor:"2,keyasint,omitempty"`
}

// TextField creates a string field.
func TextField(s string) Field {
	return Field{Data: []byte(s), Text: true}
}

// BytesField creates a binary field. The slice is copied.
func BytesField(b []byte) Field {
	return Field{Data: append([]byte(nil), b...)}
}

// String renders text fields verbatim and binary fields as hex bytes.
func (f Field) String() string {
	if f.Text {
		return string(f.Data)
	}
	var sb strings.Builder
	for i, b := range f.Data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "0x%02X", b)
	}
	return sb.String()
}

// Message is a typed protocol message.
type Message struct {
	Kind    Kind    `cbor:"1,keyasint"`
	Module  Module  `cbor:"2,keyasint"`
	Name    string  `cbor:"3,keyasint,omitempty"`
	Payload []Field `cbor:"4,keyasint,omitempty"`
}

// NewMessage builds a message from a kind, module and payload fields.
func NewMessage(kind Kind, module Module, fields ...Field) *Message {
	return &Message{
		Kind:    kind,
		Module:  module,
		Payload: fields,
	}
}

// Validate checks the kind and module tags.
func (m *Message) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, m.Kind)
	}
	if !m.Module.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidModule, m.Module)
	}
	return nil
}

// Field returns the i-th payload field.
func (m *Message) Field(i int) (Field, bool) {
	if i < 0 || i >= len(m.Payload) {
		return Field{}, false
	}
	return m.Payload[i], true
}

// FirstData returns the bytes of the first payload field, or nil.
func (m *Message) FirstData() []byte {
	if f, ok := m.Field(0); ok {
		return f.Data
	}
	return nil
}

// IsHeartbeat reports whether m is a keep-alive message.
func (m *Message) IsHeartbeat() bool {
	return m != nil && m.Kind == KindHeartbeat
}

// String returns a short human-readable description.
func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(m.Kind.String())
	sb.WriteByte('/')
	sb.WriteString(m.Module.String())
	if m.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(m.Name)
	}
	for _, f := range m.Payload {
		sb.WriteString(" [")
		sb.WriteString(f.String())
		sb.WriteString("]")
	}
	return sb.String()
}
