package optimizer

import (
	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Strategy proposes the next value to try for one coefficient given the
// history so far. Observations are presented maximize-oriented; the
// coefficient optimizer has already applied the configured sign.
//
// A Strategy may fail (singular surrogate, degenerate history). The
// caller treats failure as non-fatal and falls back to a safe value.
type Strategy interface {
	Name() string
	Suggest(spec model.CoefficientSpec, observations []model.Observation) (float64, error)
}
