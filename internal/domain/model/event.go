package model

import "time"

// EventType categorizes one row of the append-only tuning history.
type EventType string

const (
	EventSessionStart EventType = "SESSION_START"
	EventSample       EventType = "SAMPLE"
	EventRejection    EventType = "REJECTION"
	EventSuggestion   EventType = "SUGGESTION"
	EventWrite        EventType = "WRITE"
	EventTransition   EventType = "TRANSITION"
	EventAdvance      EventType = "ADVANCE"
	EventBacktrack    EventType = "BACKTRACK"
	EventComplete     EventType = "COMPLETE"
	EventOptimizerErr EventType = "OPTIMIZER_ERROR"
	EventShutdown     EventType = "SHUTDOWN"
)

// Event is one structured row of the tuning history, consumed for audit and
// dashboard display. Ordering is insertion order; rows are never deleted.
type Event struct {
	Time        time.Time
	Type        EventType
	Coefficient string
	Value       float64
	Score       float64
	Mode        Mode
	Detail      string
}
