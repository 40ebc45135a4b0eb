// Package bytequeue provides a growable FIFO byte buffer.
//
// A Queue stores bytes in a circular array. Pushes and pops are O(1)
// amortized; when a push would exceed the current capacity the backing
// array grows to 2n+1 and the live bytes are copied in logical order.
// The queue never shrinks on its own.
//
// # Layout
//
//	capacity 8, front 6, count 4
//
//	index:  0   1   2   3   4   5   6   7
//	       [c] [d] [ ] [ ] [ ] [ ] [a] [b]
//	                                ^front
//
// Logical order is a, b, c, d. EnsureCapacity and growth linearise the
// bytes so that front becomes 0 again.
//
// # Concurrency
//
// A Queue has no locking of its own. It is owned by exactly one device
// channel or transport decoder, which guards it.
package bytequeue
