// Command simbridge bridges simulated USB/serial devices between robot
// controller code and a simulator over TCP.
//
// Usage:
//
//	simbridge [flags]
//
// Flags:
//
//	-role string          Bridge side: robot, simulator (default "robot")
//	-config string        YAML configuration file
//	-listen string        Robot listen address (default ":6000")
//	-robot string         Robot address dialed by the simulator
//	-max-conns int        Simulators served at once (default 1)
//	-idle duration        Idle time before a heartbeat is sent (default 2s)
//	-pump duration        Device drain and outbox flush cadence (default 10ms)
//	-mdns                 Advertise (robot) or browse for (simulator) the robot
//	-instance string      mDNS instance name
//	-iface string         Network interface used for mDNS
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write protocol events to this CBOR file
//	-interactive          Start the interactive console
//
// Examples:
//
//	# Robot side with mDNS advertising
//	simbridge -role robot -mdns -instance team1234
//
//	# Simulator side, fixed robot address
//	simbridge -role simulator -robot 192.168.49.1:6000 -interactive
//
// Flags override values from the configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ftc-sim/simbridge/cmd/simbridge/interactive"
	"github.com/ftc-sim/simbridge/pkg/discovery"
	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/service"
)

// Options holds the command-line options.
type Options struct {
	Role            string
	ConfigFile      string
	Listen          string
	Robot           string
	MaxConns        int
	Idle            time.Duration
	Pump            time.Duration
	MDNS            bool
	Instance        string
	Interface       string
	LogLevel        string
	ProtocolLogPath string
	Interactive     bool
}

var opts Options

func init() {
	defaults := service.DefaultConfig()

	flag.StringVar(&opts.Role, "role", string(defaults.Role), "Bridge side: robot, simulator")
	flag.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&opts.Listen, "listen", defaults.ListenAddress, "Robot listen address")
	flag.StringVar(&opts.Robot, "robot", "", "Robot address dialed by the simulator")
	flag.IntVar(&opts.MaxConns, "max-conns", defaults.MaxConnections, "Simulators served at once")
	flag.DurationVar(&opts.Idle, "idle", defaults.IdleTimeout, "Idle time before a heartbeat is sent")
	flag.DurationVar(&opts.Pump, "pump", defaults.PumpInterval, "Device drain and outbox flush cadence")
	flag.BoolVar(&opts.MDNS, "mdns", false, "Advertise (robot) or browse for (simulator) the robot")
	flag.StringVar(&opts.Instance, "instance", "", "mDNS instance name")
	flag.StringVar(&opts.Interface, "iface", "", "Network interface used for mDNS")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLogPath, "protocol-log", "", "Write protocol events to this CBOR file")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()

	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", opts.LogLevel)
		os.Exit(2)
	}
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	cfg, err := buildConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	cfg.Logger = logger

	if opts.ProtocolLogPath != "" {
		fileLogger, err := log.NewFileLogger(opts.ProtocolLogPath)
		if err != nil {
			logger.Error("failed to create protocol log", "path", opts.ProtocolLogPath, "error", err)
			os.Exit(1)
		}
		defer fileLogger.Close()

		var protocolLoggers []log.Logger
		protocolLoggers = append(protocolLoggers, fileLogger)
		if level.Level() <= slog.LevelDebug {
			protocolLoggers = append(protocolLoggers, log.NewSlogAdapter(logger))
		}
		cfg.ProtocolLogger = log.NewMultiLogger(protocolLoggers...)
		logger.Info("protocol logging enabled", "path", opts.ProtocolLogPath)
	}

	svc, err := service.New(cfg)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(1)
	}
	logger.Info("simbridge started", "role", cfg.Role, "state", svc.State())
	if addr := svc.Addr(); addr != nil {
		logger.Info("listening", "addr", addr.String())
	}

	if opts.Interactive {
		console, err := interactive.New(svc)
		if err != nil {
			logger.Error("failed to create interactive console", "error", err)
			os.Exit(1)
		}
		// Route log output through readline to avoid interfering with input
		logOut.Set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logger.Error("error stopping service", "error", err)
	}
}

// buildConfig loads the config file, if any, and applies the flags that
// were set explicitly.
func buildConfig() (service.Config, error) {
	cfg := service.DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = service.LoadConfigFile(opts.ConfigFile); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = service.Role(strings.ToLower(opts.Role))
		case "listen":
			cfg.ListenAddress = opts.Listen
		case "robot":
			cfg.RobotAddress = opts.Robot
		case "max-conns":
			cfg.MaxConnections = opts.MaxConns
		case "idle":
			cfg.IdleTimeout = opts.Idle
		case "pump":
			cfg.PumpInterval = opts.Pump
		case "mdns":
			cfg.Discovery.Enabled = opts.MDNS
		case "instance":
			cfg.Discovery.InstanceName = opts.Instance
		case "iface":
			cfg.Discovery.Interface = opts.Interface
		}
	})

	if cfg.Discovery.Enabled && cfg.Role == service.RoleRobot && cfg.Discovery.InstanceName == "" {
		host, err := os.Hostname()
		if err != nil {
			return cfg, err
		}
		host, _, _ = strings.Cut(host, ".")
		cfg.Discovery.InstanceName = truncate(host, discovery.MaxInstanceNameLen)
	}

	return cfg, cfg.Validate()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// switchWriter lets the interactive console take over log output.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Set replaces the destination writer.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
