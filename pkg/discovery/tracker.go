package discovery

import (
	"context"
	"log/slog"
)

// ReadinessSink receives the robot address once a robot is found.
// Implemented by netmanager.Manager.
type ReadinessSink interface {
	SetRobotAddress(addr string)
	SetReady(ready bool)
}

// Track browses for the robot named instanceName (any robot when empty)
// and, each time it is seen, stores its address on sink and marks it ready.
// It returns nil when ctx is done.
func Track(ctx context.Context, b Browser, instanceName string, sink ReadinessSink, logger *slog.Logger) error {
	found, err := b.Browse(ctx)
	if err != nil {
		return err
	}
	for svc := range found {
		if instanceName != "" && svc.InstanceName != instanceName {
			continue
		}
		addr := svc.Address()
		if logger != nil {
			logger.Info("robot discovered", "instance", svc.InstanceName, "addr", addr)
		}
		sink.SetRobotAddress(addr)
		sink.SetReady(true)
	}
	return nil
}
