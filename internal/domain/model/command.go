package model

// CommandType identifies an operator command issued to the tuner.
type CommandType string

const (
	CommandPause        CommandType = "PAUSE"
	CommandResume       CommandType = "RESUME"
	CommandStop         CommandType = "STOP"
	CommandSkip         CommandType = "SKIP"
	CommandBacktrack    CommandType = "BACKTRACK"
	CommandOptimizeNow  CommandType = "OPTIMIZE_NOW"
	CommandSetEnabled   CommandType = "SET_ENABLED"
	CommandSetThreshold CommandType = "SET_THRESHOLD"
)

// Command is a single operator request. At most one command is held at a
// time; a newer command replaces an unprocessed older one.
type Command struct {
	Type CommandType

	// Coefficient names the backtrack target. Empty means the current
	// coefficient.
	Coefficient string

	// Enabled carries the SET_ENABLED payload.
	Enabled bool

	// Threshold carries the SET_THRESHOLD payload.
	Threshold int
}

func (t CommandType) String() string { return string(t) }
