package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "MOTOR_DATA", KindMotorData.String())
	assert.Equal(t, "OPT_DATA2", KindHeartbeat.String())
	assert.Equal(t, "KIND(42)", Kind(42).String())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("motor_data")
	require.NoError(t, err)
	assert.Equal(t, KindMotorData, k)

	k, err = ParseKind("heartbeat")
	require.NoError(t, err)
	assert.Equal(t, KindOptData2, k)

	_, err = ParseKind("unknown")
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = ParseKind("bogus")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestParseModule(t *testing.T) {
	m, err := ParseModule("Legacy_Controller")
	require.NoError(t, err)
	assert.Equal(t, ModuleLegacyController, m)

	_, err = ParseModule("nope")
	assert.ErrorIs(t, err, ErrInvalidModule)
}

func TestKindsAreValid(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 8)
	for _, k := range kinds {
		assert.True(t, k.IsValid(), "kind %v", k)
	}
	assert.False(t, KindUnknown.IsValid())
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "hello", TextField("hello").String())
	assert.Equal(t, "0x01 0xAB", BytesField([]byte{0x01, 0xAB}).String())
}

func TestBytesFieldCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	f := BytesField(src)
	src[0] = 9
	assert.Equal(t, byte(1), f.Data[0])
}

func TestWellKnownMessages(t *testing.T) {
	hb := HeartbeatMessage()
	assert.True(t, hb.IsHeartbeat())
	require.NoError(t, hb.Validate())

	g := GreetingMessage()
	assert.Equal(t, KindLegacyMotor, g.Kind)
	assert.Equal(t, ModuleLegacyController, g.Module)
	assert.Equal(t, []byte{34, 43, 90}, g.FirstData())
	assert.False(t, g.IsHeartbeat())

	d := DeviceDataMessage("A", ModuleDeviceInterface, []byte{1, 2, 3})
	assert.Equal(t, "A", d.Name)
	assert.Equal(t, []byte{1, 2, 3}, d.FirstData())

	var nilMsg *Message
	assert.False(t, nilMsg.IsHeartbeat())
}

func TestMessageString(t *testing.T) {
	s := DeviceDataMessage("dev1", ModuleDeviceInterface, []byte{0x0F}).String()
	assert.True(t, strings.HasPrefix(s, "DEVICE_DATA/DEVICE_INTERFACE dev1"), s)
	assert.Contains(t, s, "0x0F")
}

func TestFieldAccess(t *testing.T) {
	m := NewMessage(KindOptData, ModuleRobot, TextField("a"))
	f, ok := m.Field(0)
	require.True(t, ok)
	assert.Equal(t, "a", f.String())

	_, ok = m.Field(1)
	assert.False(t, ok)
	assert.Nil(t, NewMessage(KindOptData, ModuleRobot).FirstData())
}
