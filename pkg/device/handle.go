package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultReadTimeout is the timeout ReadFull uses when none is set.
const DefaultReadTimeout = 5 * time.Second

// Parity values accepted by SetDataCharacteristics.
const (
	ParityNone  byte = 0
	ParityOdd   byte = 1
	ParityEven  byte = 2
	ParityMark  byte = 3
	ParitySpace byte = 4
)

// Settings are the serial parameters recorded on a Handle. They have no
// effect on data flow.
type Settings struct {
	BaudRate        int
	LatencyTimer    int
	DataBits        byte
	StopBits        byte
	Parity          byte
	Break           bool
	DeviceType      string
	FirmwareVersion string
	ReadTimeout     time.Duration
}

// Handle is the open-device view of a Channel: the blocking read/write
// API plus serial configuration.
type Handle struct {
	ch  *Channel
	reg *Registry

	mu       sync.Mutex
	open     bool
	settings Settings
}

func newHandle(ch *Channel, reg *Registry) *Handle {
	return &Handle{
		ch:   ch,
		reg:  reg,
		open: true,
		settings: Settings{
			DataBits:    8,
			StopBits:    1,
			Parity:      ParityNone,
			ReadTimeout: DefaultReadTimeout,
		},
	}
}

// ID returns the device identifier.
func (h *Handle) ID() string {
	return h.ch.ID()
}

// Channel returns the underlying channel.
func (h *Handle) Channel() *Channel {
	return h.ch
}

// IsOpen reports whether Close has not been called.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Settings returns a copy of the recorded settings.
func (h *Handle) Settings() Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// SetBaudRate records the baud rate.
func (h *Handle) SetBaudRate(rate int) error {
	if rate <= 0 {
		return fmt.Errorf("invalid baud rate %d", rate)
	}
	return h.update(func(s *Settings) { s.BaudRate = rate })
}

// SetLatencyTimer records the latency timer in milliseconds.
func (h *Handle) SetLatencyTimer(ms int) error {
	if ms < 0 || ms > 255 {
		return fmt.Errorf("invalid latency timer %d", ms)
	}
	return h.update(func(s *Settings) { s.LatencyTimer = ms })
}

// SetDataCharacteristics records the frame format.
func (h *Handle) SetDataCharacteristics(dataBits, stopBits, parity byte) error {
	if parity > ParitySpace {
		return fmt.Errorf("invalid parity %d", parity)
	}
	return h.update(func(s *Settings) {
		s.DataBits = dataBits
		s.StopBits = stopBits
		s.Parity = parity
	})
}

// SetBreak records the break signal state.
func (h *Handle) SetBreak(enable bool) error {
	return h.update(func(s *Settings) { s.Break = enable })
}

// SetDeviceType records the device type name.
func (h *Handle) SetDeviceType(deviceType string) error {
	return h.update(func(s *Settings) { s.DeviceType = deviceType })
}

// SetFirmwareVersion records the firmware version reported by the device.
func (h *Handle) SetFirmwareVersion(version string) error {
	return h.update(func(s *Settings) { s.FirmwareVersion = version })
}

// SetReadTimeout sets the timeout used by ReadFull.
func (h *Handle) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid read timeout %v", d)
	}
	return h.update(func(s *Settings) { s.ReadTimeout = d })
}

// Purge schedules clearing of the selected queues before the next read
// or write.
func (h *Handle) Purge(flags PurgeFlags) error {
	if !h.IsOpen() {
		return ErrClosed
	}
	h.ch.Purge(flags)
	return nil
}

// Write blocks until the bytes have been taken by the network side.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	if !h.IsOpen() {
		return 0, ErrClosed
	}
	return h.ch.Write(ctx, p)
}

// Read waits up to timeout for exactly n bytes. See Channel.Read.
func (h *Handle) Read(ctx context.Context, dst []byte, n int, timeout time.Duration) (int, error) {
	if !h.IsOpen() {
		return 0, ErrClosed
	}
	return h.ch.Read(ctx, dst, n, timeout)
}

// ReadFull reads len(dst) bytes using the handle's read timeout.
func (h *Handle) ReadFull(ctx context.Context, dst []byte) (int, error) {
	return h.Read(ctx, dst, len(dst), h.Settings().ReadTimeout)
}

// RequestInterrupt cancels in-flight and later reads and writes.
func (h *Handle) RequestInterrupt() {
	h.ch.RequestInterrupt()
}

// Close marks the handle closed and releases it from the registry. The
// channel and its queued bytes remain.
func (h *Handle) Close() error {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return nil
	}
	h.open = false
	h.mu.Unlock()

	h.reg.releaseHandle(h)
	return nil
}

func (h *Handle) update(fn func(*Settings)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return ErrClosed
	}
	fn(&h.settings)
	return nil
}
