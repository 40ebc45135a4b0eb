package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type and domain.
const (
	ServiceType = "_ftcsim._tcp"
	Domain      = "local"
)

// DefaultPort is the robot listen port advertised when none is given.
const DefaultPort = 6000

// MaxInstanceNameLen is the DNS label limit for instance names.
const MaxInstanceNameLen = 63

// ProtocolVersion is advertised in the ver TXT record.
const ProtocolVersion = "1"

// BrowseTimeout is the default time FindRobot waits for an answer.
const BrowseTimeout = 10 * time.Second

// TXT record keys.
const (
	TXTKeyRole    = "role"
	TXTKeyVersion = "ver"
	TXTKeyName    = "name"
	TXTKeyDevices = "dev"
)

// RoleRobot is the role TXT value advertised by robot controllers.
const RoleRobot = "robot"

// Discovery errors.
var (
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 bytes")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrMissingRequired     = errors.New("missing required TXT field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrNotAdvertising      = errors.New("not advertising")
	ErrNotFound            = errors.New("robot not found")
)

// RobotInfo describes the robot being advertised.
type RobotInfo struct {
	// InstanceName is the DNS-SD instance name. Required.
	InstanceName string

	// DisplayName is an optional human-readable name.
	DisplayName string

	// Port is the bridge listen port (default 6000).
	Port uint16

	// Devices lists the device ids the robot exposes.
	Devices []string
}

// RobotService is a robot found by browsing.
type RobotService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version     string
	DisplayName string
	Devices     []string
}

// Address returns the host:port to dial. IPv4 addresses are preferred over
// IPv6, and the advertised host name is used when no address is known.
func (s *RobotService) Address() string {
	host := s.Host
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = a
			break
		}
		if host == s.Host {
			host = a
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
