// Package service runs one side of the simulator bridge.
//
// A Service owns the device registry, the network manager (inbox and
// outbox) and the bridge, and connects them to a transport according to
// its role:
//
//	robot:     transport.Server -> bridge <- staging loop, pump, mDNS advertiser
//	simulator: discovery/config -> readiness -> dialer -> bridge <- pump
//
// Configuration comes from DefaultConfig, optionally overlaid by a YAML
// file (LoadConfigFile) and command-line flags.
package service
