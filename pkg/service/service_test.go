package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftc-sim/simbridge/pkg/connection"
	"github.com/ftc-sim/simbridge/pkg/device"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

func robotConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PumpInterval = 2 * time.Millisecond
	return cfg
}

func simulatorConfig(robotAddr string) Config {
	cfg := robotConfig()
	cfg.Role = RoleSimulator
	cfg.RobotAddress = robotAddr
	cfg.Reconnect = connection.BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        50 * time.Millisecond,
		Multiplier: 2,
	}
	return cfg
}

func startService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := New(robotConfig())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, svc.State())
	assert.ErrorIs(t, svc.Stop(), ErrNotStarted)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	assert.NotNil(t, svc.Addr())
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Addr())
	assert.ErrorIs(t, svc.Stop(), ErrNotStarted)
}

func TestServiceStartFailsOnBusyAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := robotConfig()
	cfg.ListenAddress = l.Addr().String()
	svc, err := New(cfg)
	require.NoError(t, err)

	assert.Error(t, svc.Start(context.Background()))
	assert.Equal(t, StateIdle, svc.State())
}

func TestRobotAndSimulatorExchange(t *testing.T) {
	ctx := context.Background()
	robot := startService(t, robotConfig())
	sim := startService(t, simulatorConfig(robot.Addr().String()))

	require.Eventually(t, robot.Manager().IsReady, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, sim.Connected, 2*time.Second, 5*time.Millisecond)

	// Robot code writes a command to its device; the simulator reads it.
	h := robot.Registry().OpenDevice("AL00VXG9")
	_, err := h.Write(ctx, []byte{0x55, 0xAA, 0x00})
	require.NoError(t, err)

	var simCh *device.Channel
	require.Eventually(t, func() bool {
		var ok bool
		simCh, ok = sim.Registry().Lookup("AL00VXG9")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	buf := make([]byte, 3)
	n, err := simCh.Read(ctx, buf, 3, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, []byte{0x55, 0xAA, 0x00}, buf)

	// The simulator answers; the robot handle reads the reply.
	_, err = simCh.Write(ctx, []byte{0x01})
	require.NoError(t, err)
	n, err = h.Read(ctx, buf, 1, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, byte(0x01), buf[0])

	// Typed telemetry from the simulator reaches the robot inbox.
	sim.Manager().RequestSend(wire.KindServoData, wire.ModuleServoController, wire.TextField("pos=0.5"))
	takeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	data, err := robot.Manager().TakeLatestData(takeCtx, wire.KindServoData, false)
	require.NoError(t, err)
	assert.Equal(t, "pos=0.5", string(data))

	st := sim.Status()
	assert.Equal(t, RoleSimulator, st.Role)
	assert.True(t, st.Connected)
	assert.Equal(t, connection.StateConnected, st.Dialer)
	assert.Contains(t, st.Devices, "AL00VXG9")

	rst := robot.Status()
	assert.True(t, rst.Ready)
	assert.Equal(t, []string{"AL00VXG9"}, rst.OpenDevices)
}

func TestDeviceBytesCrossBothWays(t *testing.T) {
	ctx := context.Background()
	robot := startService(t, robotConfig())
	sim := startService(t, simulatorConfig(robot.Addr().String()))
	require.Eventually(t, sim.Connected, 2*time.Second, 5*time.Millisecond)

	lookup := func(reg *device.Registry, id string) *device.Channel {
		t.Helper()
		var ch *device.Channel
		require.Eventually(t, func() bool {
			var ok bool
			ch, ok = reg.Lookup(id)
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		return ch
	}

	// Simulator device handle to robot channel, several writes in order.
	simHandle := sim.Registry().OpenDevice("AL00SIM1")
	for _, chunk := range [][]byte{{1, 2}, {3}, {4, 5, 6}} {
		_, err := simHandle.Write(ctx, chunk)
		require.NoError(t, err)
	}
	robotCh := lookup(robot.Registry(), "AL00SIM1")
	buf := make([]byte, 6)
	n, err := robotCh.Read(ctx, buf, 6, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, buf)

	// Robot device handle to simulator channel.
	robotHandle := robot.Registry().OpenDevice("AL00ROB1")
	for _, chunk := range [][]byte{{0xA0}, {0xA1, 0xA2}} {
		_, err := robotHandle.Write(ctx, chunk)
		require.NoError(t, err)
	}
	simCh := lookup(sim.Registry(), "AL00ROB1")
	n, err = simCh.Read(ctx, buf, 3, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, []byte{0xA0, 0xA1, 0xA2}, buf[:3])

	// Nothing extra arrived on either side.
	assert.Zero(t, robotCh.ReadAvailable())
	assert.Zero(t, simCh.ReadAvailable())
}

func TestRobotNotReadyAfterSimulatorStops(t *testing.T) {
	robot := startService(t, robotConfig())
	sim, err := New(simulatorConfig(robot.Addr().String()))
	require.NoError(t, err)
	require.NoError(t, sim.Start(context.Background()))

	require.Eventually(t, robot.Manager().IsReady, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sim.Stop())
	require.Eventually(t, func() bool { return !robot.Manager().IsReady() }, 2*time.Second, 5*time.Millisecond)
}

func TestSimulatorRedialsUntilRobotAppears(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	sim := startService(t, simulatorConfig(addr))
	require.Eventually(t, func() bool { return sim.Status().Dials >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, sim.Connected())

	cfg := robotConfig()
	cfg.ListenAddress = addr
	robot := startService(t, cfg)

	require.Eventually(t, sim.Connected, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, robot.Manager().IsReady, 2*time.Second, 5*time.Millisecond)
}

func TestStopInterruptsBlockedDeviceRead(t *testing.T) {
	robot, err := New(robotConfig())
	require.NoError(t, err)
	require.NoError(t, robot.Start(context.Background()))

	h := robot.Registry().OpenDevice("A")
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := h.Read(context.Background(), buf, 1, 10*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, robot.Stop())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, device.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("read not interrupted")
	}
}
