package model

// Mode is the coordinator's top-level state.
//
// Transitions are monotonic within a session except for the reversible
// PAUSED and DISABLED cycles with TUNING. SHUTDOWN is terminal.
type Mode string

const (
	ModeIdle     Mode = "IDLE"
	ModeTuning   Mode = "TUNING"
	ModePaused   Mode = "PAUSED"
	ModeDisabled Mode = "DISABLED"
	ModeShutdown Mode = "SHUTDOWN"
)

func (m Mode) String() string {
	return string(m)
}

// Terminal reports whether no further transitions are possible.
func (m Mode) Terminal() bool {
	return m == ModeShutdown
}
