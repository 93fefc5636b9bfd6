package neurotap

import "time"

// EventType classifies engine events.
type EventType int

const (
	// EventStatus is an informational state or measurement update.
	EventStatus EventType = iota
	// EventError reports a recoverable or fatal runtime error.
	EventError
	// EventOverflow reports a consumer queue drop.
	EventOverflow
	// EventGap reports missing samples detected in the counter channel.
	EventGap
)

func (t EventType) String() string {
	switch t {
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventOverflow:
		return "overflow"
	case EventGap:
		return "gap"
	default:
		return "unknown"
	}
}

// Severity indicates how the engine reacted to the condition an event
// describes.
type Severity int

const (
	// SeverityIgnore conditions were logged and acquisition continued
	// without interruption.
	SeverityIgnore Severity = iota
	// SeverityNotify conditions degraded the session (dropped or missing
	// data) but acquisition continued.
	SeverityNotify
	// SeverityStop conditions were fatal and stopped acquisition.
	SeverityStop
)

func (s Severity) String() string {
	switch s {
	case SeverityIgnore:
		return "ignore"
	case SeverityNotify:
		return "notify"
	case SeverityStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is an out-of-band notification emitted by the engine alongside the
// data path. Events are delivered best-effort on a buffered channel; slow
// consumers lose events rather than stalling acquisition.
type Event struct {
	Time     time.Time
	Type     EventType
	Severity Severity
	Message  string
	Value    float64
}
