package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ftc-sim/simbridge/pkg/connection"
	"github.com/ftc-sim/simbridge/pkg/device"
	"github.com/ftc-sim/simbridge/pkg/discovery"
	"github.com/ftc-sim/simbridge/pkg/log"
	"github.com/ftc-sim/simbridge/pkg/netmanager"
	"github.com/ftc-sim/simbridge/pkg/transport"
)

// Role selects which side of the bridge a service runs.
type Role string

const (
	// RoleRobot accepts a simulator connection.
	RoleRobot Role = "robot"

	// RoleSimulator dials the robot.
	RoleSimulator Role = "simulator"
)

// LogRole maps the role onto the protocol log enum.
func (r Role) LogRole() log.Role {
	switch r {
	case RoleRobot:
		return log.RoleRobot
	case RoleSimulator:
		return log.RoleSimulator
	default:
		return log.RoleUnknown
	}
}

// DiscoveryConfig configures mDNS advertising (robot) and browsing
// (simulator).
type DiscoveryConfig struct {
	// Enabled turns discovery on.
	Enabled bool `yaml:"enabled"`

	// InstanceName is the advertised name on the robot, or the name to look
	// for on the simulator (empty accepts any robot).
	InstanceName string `yaml:"instance_name"`

	// DisplayName is advertised in the TXT records.
	DisplayName string `yaml:"display_name"`

	// Interface restricts mDNS to one network interface.
	Interface string `yaml:"interface"`

	// TTL is the advertised record TTL.
	TTL time.Duration `yaml:"ttl"`
}

// Config configures a Service.
type Config struct {
	Role Role `yaml:"role"`

	// ListenAddress is where the robot accepts simulators (e.g. ":6000").
	ListenAddress string `yaml:"listen_address"`

	// RobotAddress is dialed by the simulator. Setting it marks the robot
	// ready at start; leave empty to rely on discovery.
	RobotAddress string `yaml:"robot_address"`

	// MaxConnections is the number of simulators served at once.
	MaxConnections int `yaml:"max_connections"`

	MaxMessageSize uint32        `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`

	// PollInterval is the device writer quantum.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReadQuantum is the device reader quantum.
	ReadQuantum time.Duration `yaml:"read_quantum"`

	// QueueLimit caps each device queue in bytes (0 = no extra cap).
	QueueLimit int `yaml:"queue_limit"`

	// PumpInterval is the network drain cadence.
	PumpInterval time.Duration `yaml:"pump_interval"`

	Outbox netmanager.OutboxPolicy `yaml:"outbox"`

	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`

	Discovery DiscoveryConfig `yaml:"discovery"`

	Reconnect connection.BackoffConfig `yaml:"reconnect"`

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger `yaml:"-"`

	// ProtocolLogger receives protocol events. If nil, none are captured.
	ProtocolLogger log.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration for the robot side.
func DefaultConfig() Config {
	return Config{
		Role:              RoleRobot,
		ListenAddress:     fmt.Sprintf(":%d", transport.DefaultPort),
		MaxConnections:    transport.DefaultMaxConnections,
		MaxMessageSize:    transport.DefaultMaxMessageSize,
		IdleTimeout:       transport.DefaultIdleTimeout,
		DialTimeout:       transport.DefaultDialTimeout,
		PollInterval:      device.DefaultPollInterval,
		ReadQuantum:       device.DefaultReadQuantum,
		PumpInterval:      10 * time.Millisecond,
		Outbox:            netmanager.DefaultOutboxPolicy(),
		ReadyPollInterval: netmanager.DefaultReadyPollInterval,
		Discovery: DiscoveryConfig{
			TTL: discovery.DefaultAdvertiserConfig().TTL,
		},
		Reconnect: connection.DefaultBackoffConfig(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleRobot:
		if c.ListenAddress == "" {
			return fmt.Errorf("%w: listen address required", ErrInvalidConfig)
		}
		if c.Discovery.Enabled {
			if err := discovery.ValidateInstanceName(c.Discovery.InstanceName); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
		}
	case RoleSimulator:
		if c.RobotAddress == "" && !c.Discovery.Enabled {
			return fmt.Errorf("%w: robot address or discovery required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Role)
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: max connections must be positive", ErrInvalidConfig)
	}
	if c.Outbox.SoftCap < 1 {
		return fmt.Errorf("%w: outbox soft cap must be positive", ErrInvalidConfig)
	}
	if c.Outbox.TrimTo < 0 || c.Outbox.TrimTo > c.Outbox.SoftCap {
		return fmt.Errorf("%w: outbox trim target out of range", ErrInvalidConfig)
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("%w: negative queue limit", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig decodes YAML from r over DefaultConfig. Durations use Go
// duration syntax ("250ms", "2s"). Unknown keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return LoadConfig(bytes.NewReader(data))
}

func (c *Config) connectionConfig() transport.ConnectionConfig {
	cc := transport.DefaultConnectionConfig()
	if c.MaxMessageSize > 0 {
		cc.MaxMessageSize = c.MaxMessageSize
	}
	if c.IdleTimeout != 0 {
		cc.IdleTimeout = c.IdleTimeout
	}
	if c.DialTimeout > 0 {
		cc.DialTimeout = c.DialTimeout
	}
	cc.WriteTimeout = c.WriteTimeout
	cc.Role = c.Role.LogRole()
	cc.Logger = c.Logger
	cc.ProtocolLogger = c.ProtocolLogger
	return cc
}

func (c *Config) deviceConfig() device.Config {
	return device.Config{
		PollInterval:   c.PollInterval,
		ReadQuantum:    c.ReadQuantum,
		QueueLimit:     c.QueueLimit,
		Logger:         c.Logger,
		ProtocolLogger: c.ProtocolLogger,
	}
}

func (c *Config) managerConfig() netmanager.Config {
	mc := netmanager.DefaultConfig()
	mc.Outbox = c.Outbox
	if c.ReadyPollInterval > 0 {
		mc.ReadyPollInterval = c.ReadyPollInterval
	}
	mc.Logger = c.Logger
	mc.ProtocolLogger = c.ProtocolLogger
	return mc
}

func (c *Config) advertiserConfig() discovery.AdvertiserConfig {
	ac := discovery.DefaultAdvertiserConfig()
	ac.Interface = c.Discovery.Interface
	if c.Discovery.TTL > 0 {
		ac.TTL = c.Discovery.TTL
	}
	ac.Logger = c.Logger
	return ac
}

func (c *Config) browserConfig() discovery.BrowserConfig {
	bc := discovery.DefaultBrowserConfig()
	bc.Interface = c.Discovery.Interface
	bc.Logger = c.Logger
	return bc
}
