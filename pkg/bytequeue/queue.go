package bytequeue

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultCapacity is the initial capacity of a queue created with New.
	DefaultCapacity = 10

	// MaxCapacity is the largest capacity a queue may grow to.
	MaxCapacity = math.MaxInt32
)

var (
	// ErrUnderflow indicates a pop from a queue holding too few bytes.
	ErrUnderflow = errors.New("queue underflow")

	// ErrCapacityExhausted indicates growth would exceed the queue's limit.
	ErrCapacityExhausted = errors.New("queue capacity exhausted")

	// ErrInvalidCapacity indicates a negative or inconsistent capacity.
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// Queue is a growable circular FIFO of bytes.
//
// Invariant: 0 <= count <= len(data); when count > 0 the valid bytes
// occupy [front, front+count) modulo len(data).
type Queue struct {
	data  []byte
	front int
	count int
	limit int
}

// New creates an empty queue with DefaultCapacity.
func New() *Queue {
	return &Queue{
		data:  make([]byte, DefaultCapacity),
		limit: MaxCapacity,
	}
}

// NewWithCapacity creates an empty queue with the given initial capacity.
func NewWithCapacity(capacity int) (*Queue, error) {
	return NewBounded(capacity, MaxCapacity)
}

// NewBounded creates an empty queue that will never grow beyond limit bytes.
func NewBounded(capacity, limit int) (*Queue, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidCapacity, capacity)
	}
	if limit <= 0 || limit > MaxCapacity || capacity > limit {
		return nil, fmt.Errorf("%w: limit %d for capacity %d", ErrInvalidCapacity, limit, capacity)
	}
	return &Queue{
		data:  make([]byte, capacity),
		limit: limit,
	}, nil
}

// Len returns the number of bytes in the queue.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the current capacity of the backing array.
func (q *Queue) Cap() int {
	return len(q.data)
}

// IsEmpty reports whether the queue holds no bytes.
func (q *Queue) IsEmpty() bool {
	return q.count == 0
}

// Push appends b at the rear, growing the queue if it is full.
func (q *Queue) Push(b byte) error {
	if q.count == len(q.data) {
		if err := q.grow(q.count + 1); err != nil {
			return err
		}
	}
	q.data[q.index(q.count)] = b
	q.count++
	return nil
}

// PushAll appends every byte of p in order. The queue grows at most once.
// On error nothing is appended.
func (q *Queue) PushAll(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if need := q.count + len(p); need > len(q.data) {
		if err := q.grow(need); err != nil {
			return err
		}
	}
	rear := q.index(q.count)
	n := copy(q.data[rear:], p)
	copy(q.data, p[n:])
	q.count += len(p)
	return nil
}

// Pop removes and returns the byte at the front.
func (q *Queue) Pop() (byte, error) {
	if q.count == 0 {
		return 0, ErrUnderflow
	}
	b := q.data[q.front]
	q.front = q.index(1)
	q.count--
	return b, nil
}

// PopInto removes exactly len(dst) bytes into dst. If fewer bytes are
// queued it returns ErrUnderflow and removes nothing.
func (q *Queue) PopInto(dst []byte) (int, error) {
	if len(dst) > q.count {
		return 0, fmt.Errorf("%w: want %d, have %d", ErrUnderflow, len(dst), q.count)
	}
	n := q.Peek(dst)
	q.advance(n)
	return n, nil
}

// Peek copies up to len(dst) bytes from the front into dst without
// removing them, and returns the number copied.
func (q *Queue) Peek(dst []byte) int {
	n := min(len(dst), q.count)
	if n == 0 {
		return 0
	}
	first := copy(dst[:n], q.data[q.front:min(q.front+n, len(q.data))])
	copy(dst[first:n], q.data[:n-first])
	return n
}

// Discard removes n bytes from the front.
func (q *Queue) Discard(n int) error {
	if n < 0 || n > q.count {
		return fmt.Errorf("%w: discard %d, have %d", ErrUnderflow, n, q.count)
	}
	q.advance(n)
	return nil
}

// EnsureCapacity grows the backing array to at least n bytes. It is a
// no-op when the capacity already suffices. Existing bytes keep their
// logical order and front is reset to 0.
func (q *Queue) EnsureCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	if n <= len(q.data) {
		return nil
	}
	if n > q.limit {
		return fmt.Errorf("%w: requested %d, limit %d", ErrCapacityExhausted, n, q.limit)
	}
	q.resize(n)
	return nil
}

// DrainAll removes every byte and returns them in FIFO order.
func (q *Queue) DrainAll() []byte {
	out := make([]byte, q.count)
	q.Peek(out)
	q.Clear()
	return out
}

// Clear discards all bytes. Capacity is unchanged.
func (q *Queue) Clear() {
	q.front = 0
	q.count = 0
}

// grow enlarges the array using the 2n+1 policy, clamped to the limit,
// so that at least need bytes fit.
func (q *Queue) grow(need int) error {
	if need > q.limit {
		return fmt.Errorf("%w: need %d, limit %d", ErrCapacityExhausted, need, q.limit)
	}
	next := len(q.data)*2 + 1
	if next < len(q.data) || next > q.limit {
		next = q.limit
	}
	if next < need {
		next = need
	}
	q.resize(next)
	return nil
}

func (q *Queue) resize(capacity int) {
	bigger := make([]byte, capacity)
	q.Peek(bigger[:q.count])
	q.data = bigger
	q.front = 0
}

func (q *Queue) advance(n int) {
	if n == q.count {
		q.Clear()
		return
	}
	q.front = q.index(n)
	q.count -= n
}

// index maps a logical offset from front to a physical array index.
func (q *Queue) index(offset int) int {
	i := q.front + offset
	if i >= len(q.data) {
		i -= len(q.data)
	}
	return i
}
