package wire

// HeartbeatName is the name carried by keep-alive messages.
const HeartbeatName = "heartbeat"

// GreetingName is the name carried by the connection greeting.
const GreetingName = "info"

// greetingInfo is the fixed legacy-controller info payload.
var greetingInfo = []byte{34, 43, 90}

// HeartbeatMessage returns the well-known keep-alive message.
// A new value is returned on every call.
func HeartbeatMessage() *Message {
	return &Message{
		Kind:   KindHeartbeat,
		Module: ModuleRobot,
		Name:   HeartbeatName,
	}
}

// GreetingMessage returns the legacy-controller info message a robot sends
// when a simulator connects.
func GreetingMessage() *Message {
	return &Message{
		Kind:    KindLegacyMotor,
		Module:  ModuleLegacyController,
		Name:    GreetingName,
		Payload: []Field{BytesField(greetingInfo)},
	}
}

// DeviceDataMessage wraps bytes destined for (or produced by) the device
// channel identified by deviceID.
func DeviceDataMessage(deviceID string, module Module, data []byte) *Message {
	return &Message{
		Kind:    KindDeviceData,
		Module:  module,
		Name:    deviceID,
		Payload: []Field{BytesField(data)},
	}
}
