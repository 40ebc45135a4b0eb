// Package device emulates blocking serial devices on top of byte queues.
//
// Each device identifier owns a Channel with a read queue (bytes arriving
// from the network for the device user) and a write queue (bytes the
// device user produced). Reads and writes block in bounded wait quanta so
// interrupts and context cancellation are observed promptly:
//
//	device user                     network side
//	-----------                     ------------
//	Write(p) ──► writeQ, dirty ───► DrainWrite()  (clears dirty, writer returns)
//	Read(n)  ◄── readQ ◄─────────── PushRead(p)
//
// A Registry maps identifiers to channels and hands out Handles that add
// the serial configuration surface (baud rate, latency timer, purge).
package device
