package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftc-sim/simbridge/pkg/bridge"
	"github.com/ftc-sim/simbridge/pkg/connection"
	"github.com/ftc-sim/simbridge/pkg/device"
	"github.com/ftc-sim/simbridge/pkg/discovery"
	"github.com/ftc-sim/simbridge/pkg/heartbeat"
	"github.com/ftc-sim/simbridge/pkg/netmanager"
	"github.com/ftc-sim/simbridge/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Service wires the device registry, network manager and bridge to a
// transport for one side of the link.
//
// Robot side: listens for a simulator, stages received messages, pumps
// device writes to the simulator and optionally advertises itself over
// mDNS.
//
// Simulator side: waits until the robot is ready (configured address or
// discovery), dials it and redials with backoff whenever the link drops.
type Service struct {
	config Config

	registry  *device.Registry
	manager   *netmanager.Manager
	heartbeat *heartbeat.Task
	bridge    *bridge.Bridge

	mu         sync.RWMutex
	state      ServiceState
	cancel     context.CancelFunc
	group      *errgroup.Group
	server     *transport.Server
	dialer     *connection.Manager
	advertiser *discovery.MDNSAdvertiser
	browser    *discovery.MDNSBrowser
}

// New creates a service from a validated config.
func New(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	hb := heartbeat.New(heartbeat.Config{
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})

	mc := config.managerConfig()
	mc.Heartbeat = hb
	manager := netmanager.New(mc)

	registry := device.NewRegistry(config.deviceConfig())

	b, err := bridge.New(bridge.Config{
		Role:           config.Role.LogRole(),
		Registry:       registry,
		Manager:        manager,
		Heartbeat:      hb,
		PumpInterval:   config.PumpInterval,
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		config:    config,
		registry:  registry,
		manager:   manager,
		heartbeat: hb,
		bridge:    b,
	}, nil
}

// Start launches the service goroutines. They run until Stop is called or
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.registry.ForEach(func(ch *device.Channel) { ch.ClearInterrupt() })

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)

	var err error
	switch s.config.Role {
	case RoleRobot:
		err = s.startRobot(gctx, group)
	case RoleSimulator:
		err = s.startSimulator(gctx, group)
	}
	if err != nil {
		cancel()
		_ = group.Wait()
		s.stopComponents()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	group.Go(func() error { return s.bridge.Run(gctx) })

	s.mu.Lock()
	s.cancel = cancel
	s.group = group
	s.state = StateRunning
	s.mu.Unlock()

	s.debugLog("service started", "role", s.config.Role)
	return nil
}

// Stop cancels the service goroutines and waits for them.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	cancel()
	s.stopComponents()
	err := group.Wait()

	// Blocked device operations must not outlive the service.
	s.registry.ForEach(func(ch *device.Channel) { ch.RequestInterrupt() })

	s.mu.Lock()
	s.state = StateStopped
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	s.debugLog("service stopped", "role", s.config.Role)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// State returns the current service state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// Registry returns the device registry.
func (s *Service) Registry() *device.Registry {
	return s.registry
}

// Manager returns the network manager.
func (s *Service) Manager() *netmanager.Manager {
	return s.manager
}

// Bridge returns the network I/O unit.
func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

// Heartbeat returns the shared heartbeat task.
func (s *Service) Heartbeat() *heartbeat.Task {
	return s.heartbeat
}

// Addr returns the robot listen address, or nil on the simulator side or
// before Start.
func (s *Service) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Connected reports whether a peer is attached to the bridge.
func (s *Service) Connected() bool {
	return s.bridge.Peer() != nil
}

// Status is a point-in-time view of the service.
type Status struct {
	Role         Role
	State        ServiceState
	Connected    bool
	Ready        bool
	RobotAddress string
	Devices      []string
	OpenDevices  []string
	Bridge       bridge.Stats
	Outbox       netmanager.Stats
	Heartbeat    heartbeat.Stats
	Dialer       connection.State
	Dials        int
}

// Status returns a snapshot of the service.
func (s *Service) Status() Status {
	st := Status{
		Role:         s.config.Role,
		State:        s.State(),
		Connected:    s.Connected(),
		Ready:        s.manager.IsReady(),
		RobotAddress: s.manager.RobotAddress(),
		OpenDevices:  s.registry.OpenDevices(),
		Bridge:       s.bridge.Stats(),
		Outbox:       s.manager.Stats(),
		Heartbeat:    s.heartbeat.Stats(),
	}
	for _, ch := range s.registry.Snapshot() {
		st.Devices = append(st.Devices, ch.ID())
	}

	s.mu.RLock()
	dialer := s.dialer
	s.mu.RUnlock()
	if dialer != nil {
		st.Dialer = dialer.State()
		st.Dials = dialer.Dials()
	}
	return st
}

func (s *Service) startRobot(ctx context.Context, group *errgroup.Group) error {
	server, err := transport.NewServer(transport.ServerConfig{
		Address:        s.config.ListenAddress,
		MaxConnections: s.config.MaxConnections,
		Connection:     s.config.connectionConfig(),
		Handler:        s.bridge,
		OnReject: func(addr net.Addr) {
			s.debugLog("simulator rejected", "remote", addr)
		},
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	group.Go(func() error { return s.manager.RunStaging(ctx) })

	if s.config.Discovery.Enabled {
		adv := discovery.NewMDNSAdvertiser(s.config.advertiserConfig())
		info := &discovery.RobotInfo{
			InstanceName: s.config.Discovery.InstanceName,
			DisplayName:  s.config.Discovery.DisplayName,
			Port:         listenPort(server.Addr()),
		}
		if err := adv.Advertise(ctx, info); err != nil {
			return fmt.Errorf("advertise robot: %w", err)
		}
		s.mu.Lock()
		s.advertiser = adv
		s.mu.Unlock()
	}

	s.debugLog("robot listening", "addr", server.Addr())
	return nil
}

func (s *Service) startSimulator(ctx context.Context, group *errgroup.Group) error {
	if s.config.RobotAddress != "" {
		s.manager.SetRobotAddress(s.config.RobotAddress)
		s.manager.SetReady(true)
	}

	if s.config.Discovery.Enabled {
		browser := discovery.NewMDNSBrowser(s.config.browserConfig())
		s.mu.Lock()
		s.browser = browser
		s.mu.Unlock()

		group.Go(func() error {
			return discovery.Track(ctx, browser, s.config.Discovery.InstanceName, s.manager, s.config.Logger)
		})
	}

	dialer, err := connection.NewManager(connection.Config{
		Readiness: s.manager,
		Dial:      s.dial,
		Backoff:   s.config.Reconnect,
		Logger:    s.config.Logger,
	})
	if err != nil {
		return err
	}
	dialer.OnReconnecting(func(attempt int, delay time.Duration) {
		s.debugLog("redialing robot", "attempt", attempt, "delay", delay)
	})

	s.mu.Lock()
	s.dialer = dialer
	s.mu.Unlock()

	group.Go(func() error { return dialer.Run(ctx) })
	return nil
}

// dial connects to the robot with the bridge as handler. The returned
// connection is already started.
func (s *Service) dial(ctx context.Context, addr string) (connection.Session, error) {
	conn, err := transport.Dial(ctx, addr, s.config.connectionConfig(), s.bridge)
	if err != nil {
		return nil, err
	}
	s.debugLog("dialed robot", "conn", conn.ID(), "local", conn.LocalAddr().String(), "remote", addr)
	return conn, nil
}

func (s *Service) stopComponents() {
	s.mu.Lock()
	server, adv, browser := s.server, s.advertiser, s.browser
	s.server, s.advertiser, s.browser = nil, nil, nil
	s.mu.Unlock()

	if adv != nil {
		adv.Stop()
	}
	if browser != nil {
		browser.Stop()
	}
	if server != nil {
		_ = server.Stop()
	}
}

func (s *Service) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func listenPort(addr net.Addr) uint16 {
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}
