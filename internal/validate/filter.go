package validate

import (
	"fmt"
	"math"

	"github.com/mmarchjr/MLtune/internal/config"
	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Rejection reasons, used as metric labels and event detail.
const (
	ReasonMalformed          = "malformed"
	ReasonOutOfRange         = "out_of_range"
	ReasonDuplicateTimestamp = "duplicate_timestamp"
)

// Rejection explains why a sample was excluded from scoring.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("sample rejected (%s): %s", r.Reason, r.Detail)
}

// Filter screens incoming shot samples against physical plausibility
// bounds and enforces at-most-once ingestion by shot timestamp. A
// rejected sample never reaches the optimizer; its timestamp is still
// remembered so a replay cannot slip through later.
type Filter struct {
	cfg  config.FilterConfig
	seen map[float64]struct{}
}

func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: cfg, seen: make(map[float64]struct{})}
}

// Check returns nil when the sample is admissible. The caller must treat
// a non-nil Rejection as final for this timestamp.
func (f *Filter) Check(sample *model.ShotSample) *Rejection {
	if rej := f.checkShape(sample); rej != nil {
		if sample.Timestamp > 0 {
			f.seen[sample.Timestamp] = struct{}{}
		}
		return rej
	}

	if _, dup := f.seen[sample.Timestamp]; dup {
		return &Rejection{
			Reason: ReasonDuplicateTimestamp,
			Detail: fmt.Sprintf("timestamp %.3f already ingested", sample.Timestamp),
		}
	}
	f.seen[sample.Timestamp] = struct{}{}

	if rej := f.checkBounds(sample); rej != nil {
		return rej
	}
	return nil
}

func (f *Filter) checkShape(sample *model.ShotSample) *Rejection {
	if sample.Timestamp <= 0 || math.IsNaN(sample.Timestamp) || math.IsInf(sample.Timestamp, 0) {
		return &Rejection{
			Reason: ReasonMalformed,
			Detail: fmt.Sprintf("invalid timestamp %v", sample.Timestamp),
		}
	}
	for name, v := range map[string]float64{
		"distance":      sample.Distance,
		"pitch":         sample.Pitch,
		"exit_velocity": sample.ExitVelocity,
		"yaw":           sample.Yaw,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &Rejection{
				Reason: ReasonMalformed,
				Detail: fmt.Sprintf("%s is not finite", name),
			}
		}
	}
	for name, v := range sample.Coefficients {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &Rejection{
				Reason: ReasonMalformed,
				Detail: fmt.Sprintf("coefficient %s is not finite", name),
			}
		}
	}
	return nil
}

func (f *Filter) checkBounds(sample *model.ShotSample) *Rejection {
	checks := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"distance", sample.Distance, f.cfg.MinDistanceM, f.cfg.MaxDistanceM},
		{"pitch", sample.Pitch, f.cfg.MinPitchRad, f.cfg.MaxPitchRad},
		{"exit_velocity", sample.ExitVelocity, f.cfg.MinVelocityMPS, f.cfg.MaxVelocityMPS},
	}
	for _, c := range checks {
		if c.v < c.min || c.v > c.max {
			return &Rejection{
				Reason: ReasonOutOfRange,
				Detail: fmt.Sprintf("%s %.3f outside [%.3f, %.3f]", c.name, c.v, c.min, c.max),
			}
		}
	}
	return nil
}

// Reset clears the duplicate-timestamp history. Called when a lockout
// ends so timestamps from a rebooted robot clock are accepted.
func (f *Filter) Reset() {
	f.seen = make(map[float64]struct{})
}
