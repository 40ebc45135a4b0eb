// Package heartbeat produces the keep-alive message exchanged when a link
// has nothing else to say.
//
// The outbox calls Task.Fallback when asked for the next message while
// empty. The transport's idle monitor calls Task.Fire so a heartbeat goes
// out immediately once no traffic has passed for the idle interval.
package heartbeat
