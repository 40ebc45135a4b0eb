// Package interactive provides the interactive command-line interface
// for simbridge.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/ftc-sim/simbridge/pkg/device"
	"github.com/ftc-sim/simbridge/pkg/service"
	"github.com/ftc-sim/simbridge/pkg/wire"
)

// commandTimeout bounds blocking console commands.
const commandTimeout = 5 * time.Second

// Console handles interactive mode for simbridge.
type Console struct {
	svc *service.Service
	rl  *readline.Instance
}

// New creates a console bound to svc.
func New(svc *service.Service) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", svc.Config().Role),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{svc: svc, rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop. Quitting cancels ctx via cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	out := c.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Exec(ctx, line, out); quit {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line, writing results to out. It reports whether
// the user asked to quit.
func (c *Console) Exec(ctx context.Context, line string, out io.Writer) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		printHelp(out)
	case "status", "s":
		c.cmdStatus(out)
	case "devices", "d":
		c.cmdDevices(out)
	case "open":
		err = c.cmdOpen(args, out)
	case "close":
		err = c.cmdClose(args, out)
	case "write", "w":
		err = c.cmdWrite(ctx, args, out)
	case "read", "r":
		err = c.cmdRead(ctx, args, out)
	case "purge":
		err = c.cmdPurge(args, out)
	case "interrupt":
		err = c.cmdInterrupt(args, out)
	case "send":
		err = c.cmdSend(args, out)
	case "take", "t":
		err = c.cmdTake(ctx, args, out)
	case "robot":
		err = c.cmdRobot(args, out)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return false
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `
simbridge Commands:
  Devices:
    devices                    - List device channels
    open <id>                  - Open a device handle
    close <id>                 - Close a device handle
    write <id> <hex>           - Write bytes to a device (e.g. write A1 55aa00)
    read <id> <n> [timeout]    - Read up to n bytes (timeout default 1s)
    purge <id> rx|tx|both      - Request a purge on the next operation
    interrupt <id>             - Cancel blocked operations on a device

  Messages:
    send <kind> [module] <text> - Queue a message (e.g. send MOTOR_DATA speed=1)
    take <kind> [cache]         - Take the newest received message of a kind
    robot [addr]                - Show or set the robot address (marks ready)

  General:
    status                     - Show service status
    help                       - Show this help
    quit                       - Exit`)
}

func (c *Console) cmdStatus(out io.Writer) {
	st := c.svc.Status()
	fmt.Fprintf(out, "Role:        %s\n", st.Role)
	fmt.Fprintf(out, "State:       %s\n", st.State)
	fmt.Fprintf(out, "Connected:   %v\n", st.Connected)
	fmt.Fprintf(out, "Ready:       %v\n", st.Ready)
	if st.RobotAddress != "" {
		fmt.Fprintf(out, "Robot:       %s\n", st.RobotAddress)
	}
	if st.Role == service.RoleSimulator {
		fmt.Fprintf(out, "Dialer:      %s (%d dials)\n", st.Dialer, st.Dials)
	}
	fmt.Fprintf(out, "Devices:     %d (%d open)\n", len(st.Devices), len(st.OpenDevices))
	fmt.Fprintf(out, "Received:    %d (%d heartbeats)\n", st.Bridge.Received, st.Bridge.Heartbeats)
	fmt.Fprintf(out, "Sent:        %d (%d errors)\n", st.Bridge.Sent, st.Bridge.SendErrors)
	fmt.Fprintf(out, "Device I/O:  %d bytes in, %d bytes out\n", st.Bridge.DeviceBytesIn, st.Bridge.DeviceBytesOut)
	fmt.Fprintf(out, "Outbox:      %d queued, %d trimmed, %d fallbacks\n", st.Outbox.Queued, st.Outbox.Trimmed, st.Outbox.Fallbacks)
}

func (c *Console) cmdDevices(out io.Writer) {
	channels := c.svc.Registry().Snapshot()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No devices")
		return
	}
	for _, ch := range channels {
		fmt.Fprintf(out, "  %-16s rx=%d tx=%d dirty=%v busy=%v\n",
			ch.ID(), ch.ReadAvailable(), ch.WritePending(), ch.Dirty(), ch.Busy())
	}
}

func (c *Console) cmdOpen(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: open <id>")
	}
	h := c.svc.Registry().OpenDevice(args[0])
	fmt.Fprintf(out, "Opened %s\n", h.ID())
	return nil
}

func (c *Console) cmdClose(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: close <id>")
	}
	if !c.isOpen(args[0]) {
		return fmt.Errorf("device %s is not open", args[0])
	}
	if err := c.svc.Registry().OpenDevice(args[0]).Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Closed %s\n", args[0])
	return nil
}

func (c *Console) cmdWrite(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: write <id> <hex>")
	}
	data, err := hex.DecodeString(strings.Join(args[1:], ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	n, err := c.svc.Registry().OpenDevice(args[0]).Write(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d bytes to %s\n", n, args[0])
	return nil
}

func (c *Console) cmdRead(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: read <id> <n> [timeout]")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid length %q", args[1])
	}
	timeout := time.Second
	if len(args) == 3 {
		if timeout, err = time.ParseDuration(args[2]); err != nil {
			return err
		}
	}

	buf := make([]byte, n)
	got, err := c.svc.Registry().OpenDevice(args[0]).Read(ctx, buf, n, timeout)
	if err != nil {
		return err
	}
	if got == 0 {
		fmt.Fprintln(out, "Timeout (no data)")
		return nil
	}
	fmt.Fprintf(out, "%d bytes: %s\n", got, hex.EncodeToString(buf[:got]))
	return nil
}

func (c *Console) cmdPurge(args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: purge <id> rx|tx|both")
	}
	var flags device.PurgeFlags
	switch strings.ToLower(args[1]) {
	case "rx":
		flags = device.PurgeRX
	case "tx":
		flags = device.PurgeTX
	case "both":
		flags = device.PurgeBoth
	default:
		return fmt.Errorf("unknown purge target %q", args[1])
	}
	if err := c.svc.Registry().OpenDevice(args[0]).Purge(flags); err != nil {
		return err
	}
	fmt.Fprintf(out, "Purge %s requested on %s\n", flags, args[0])
	return nil
}

func (c *Console) cmdInterrupt(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: interrupt <id>")
	}
	ch, ok := c.svc.Registry().Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown device %s", args[0])
	}
	ch.RequestInterrupt()
	fmt.Fprintf(out, "Interrupt requested on %s\n", args[0])
	return nil
}

func (c *Console) cmdSend(args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: send <kind> [module] <text>")
	}
	kind, err := wire.ParseKind(args[0])
	if err != nil {
		return err
	}

	module := wire.ModuleRobot
	rest := args[1:]
	if len(rest) > 1 {
		if m, err := wire.ParseModule(rest[0]); err == nil {
			module = m
			rest = rest[1:]
		}
	}

	c.svc.Manager().RequestSend(kind, module, wire.TextField(strings.Join(rest, " ")))
	fmt.Fprintf(out, "Queued %s (%d pending)\n", kind, c.svc.Manager().PendingSends())
	return nil
}

func (c *Console) cmdTake(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: take <kind> [cache]")
	}
	kind, err := wire.ParseKind(args[0])
	if err != nil {
		return err
	}
	cache := len(args) == 2 && strings.EqualFold(args[1], "cache")

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	msg, err := c.svc.Manager().TakeLatest(ctx, kind, cache)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, msg)
	return nil
}

func (c *Console) cmdRobot(args []string, out io.Writer) error {
	mgr := c.svc.Manager()
	switch len(args) {
	case 0:
		fmt.Fprintf(out, "Robot: %q ready=%v\n", mgr.RobotAddress(), mgr.IsReady())
	case 1:
		mgr.SetRobotAddress(args[0])
		mgr.SetReady(true)
		fmt.Fprintf(out, "Robot address set to %s\n", args[0])
	default:
		return errors.New("usage: robot [addr]")
	}
	return nil
}

func (c *Console) isOpen(id string) bool {
	for _, open := range c.svc.Registry().OpenDevices() {
		if open == id {
			return true
		}
	}
	return false
}
