package model

// ShotSample is one feedback event read from the telemetry link. Samples are
// immutable once constructed by the validation filter and are consumed
// exactly once by the active coefficient's optimizer; ingestion is keyed by
// the robot-clock Timestamp so a re-read of the same shot is never counted
// twice.
type ShotSample struct {
	// Timestamp is the robot-side monotonic clock at the moment of the shot.
	Timestamp float64

	Hit          bool
	Distance     float64
	Pitch        float64
	ExitVelocity float64
	Yaw          float64

	// Coefficients is a snapshot of every coefficient value that was active
	// when the shot was taken. The coordinator uses it to exclude samples
	// collected under a previous value from the next optimization pass.
	Coefficients map[string]float64
}

// ActiveValue returns the snapshot value for the named coefficient and
// whether the snapshot carried it at all.
func (s ShotSample) ActiveValue(name string) (float64, bool) {
	v, ok := s.Coefficients[name]
	return v, ok
}

// Observation is one (value, score) pair fed to a coefficient's optimizer.
// Observations are appended, never mutated or removed.
type Observation struct {
	Value float64
	Score float64

	// Samples is the batch size the score was reduced from; larger batches
	// are more confident evidence.
	Samples int
}
