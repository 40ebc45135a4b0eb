// Package discovery implements mDNS/DNS-SD discovery of robot controllers.
//
// A robot-side bridge advertises the _ftcsim._tcp service while it listens
// for a simulator. A simulator-side bridge browses for that service and,
// once a robot is found, records its address on the network manager and
// marks it ready so the dialer can connect.
//
// # Service
//
// Service type: _ftcsim._tcp, domain "local".
// Instance name: the robot name, at most 63 bytes.
// TXT records include: role, ver (protocol version), and optionally
// name (display name) and dev (comma-separated device ids).
//
// # Address selection
//
// Entries seen on several interfaces are merged by instance name. The
// dial address prefers the first IPv4 address, then IPv6, then the
// advertised host name.
package discovery
