package log

// Logger receives captured events. Implementations must be safe for
// concurrent use and should not block.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Emit logs event to l when l is non-nil.
func Emit(l Logger, event Event) {
	if l != nil {
		l.Log(event)
	}
}

var _ Logger = NoopLogger{}
