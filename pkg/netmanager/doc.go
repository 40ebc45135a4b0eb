// Package netmanager is the exchange point between the network unit and the
// code consuming or producing typed messages.
//
// Received messages are filed per kind in the inbox; consumers block in
// TakeLatest for the newest message of a kind. Messages to transmit are
// queued in the outbox with RequestSend and dequeued oldest first by
// NextToSend, which falls back to a heartbeat when nothing is pending.
// Once the outbox grows past its soft cap the oldest entries are discarded
// so fresh state wins over history.
//
// The manager also carries the robot address and readiness flag that gate
// the simulator's connection attempts.
package netmanager
