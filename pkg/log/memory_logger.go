package log

import "sync"

// DefaultMemoryLoggerSize is the number of events a MemoryLogger keeps
// when created with a non-positive size.
const DefaultMemoryLoggerSize = 256

// MemoryLogger keeps the most recent events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
	size   int
}

// NewMemoryLogger creates a MemoryLogger keeping at most size events.
func NewMemoryLogger(size int) *MemoryLogger {
	if size <= 0 {
		size = DefaultMemoryLoggerSize
	}
	return &MemoryLogger{size: size}
}

// Log records the event, evicting the oldest when full.
func (m *MemoryLogger) Log(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.size {
		copy(m.events, m.events[1:])
		m.events = m.events[:m.size-1]
	}
	m.events = append(m.events, event)
}

// Events returns a copy of the retained events matching filter, oldest first.
func (m *MemoryLogger) Events(filter Filter) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops all retained events.
func (m *MemoryLogger) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

var _ Logger = (*MemoryLogger)(nil)
