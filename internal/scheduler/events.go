package scheduler

// Event is a scheduler lifecycle notification: job transitions and model
// residency changes. Minimal and stable: name plus ids and loose fields.
type Event struct {
	Name   string
	JobID  string
	Kind   string
	Fields map[string]any
}

// EventPublisher receives events from the scheduler. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
