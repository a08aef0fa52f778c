package optimizer

import (
	"fmt"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Score sign conventions accepted in configuration.
const (
	SignMaximize = "maximize"
	SignMinimize = "minimize"
)

// ParseSign maps a configured sign convention to the multiplier applied
// to raw scores before they reach the strategy.
func ParseSign(convention string) (float64, error) {
	switch convention {
	case SignMaximize:
		return 1, nil
	case SignMinimize:
		return -1, nil
	}
	return 0, fmt.Errorf("unknown score sign %q", convention)
}

// Convergence reasons reported by Converged.
const (
	ConvergedPlateau = "score_plateau"
	ConvergedBudget  = "observation_budget"
)

// Params bound how long a single coefficient is worked on.
type Params struct {
	// ConvergenceWindow and ConvergenceEpsilon detect a plateau: once the
	// best scores of the trailing window spread less than epsilon, further
	// batches are unlikely to move the needle.
	ConvergenceWindow  int
	ConvergenceEpsilon float64

	// MaxObservations is the hard budget per coefficient.
	MaxObservations int
}

// CoefficientOptimizer owns the optimization state of one coefficient:
// its append-only observation history, the suggestion strategy, and the
// scoring policy. It is not safe for concurrent use; the coordinator is
// its only caller.
type CoefficientOptimizer struct {
	spec     model.CoefficientSpec
	strategy Strategy
	scorer   Scorer
	sign     float64
	params   Params

	observations []model.Observation
}

func NewCoefficientOptimizer(spec model.CoefficientSpec, strategy Strategy, scorer Scorer, sign float64, params Params) *CoefficientOptimizer {
	return &CoefficientOptimizer{
		spec:     spec,
		strategy: strategy,
		scorer:   scorer,
		sign:     sign,
		params:   params,
	}
}

func (o *CoefficientOptimizer) Spec() model.CoefficientSpec { return o.spec }

// Observe scores a batch collected under the given coefficient value and
// appends the resulting observation. The raw score keeps the scorer's
// orientation; the sign convention is applied only when suggesting.
func (o *CoefficientOptimizer) Observe(value float64, samples []model.ShotSample) model.Observation {
	obs := model.Observation{
		Value:   value,
		Score:   o.scorer.Score(samples),
		Samples: len(samples),
	}
	o.observations = append(o.observations, obs)
	return obs
}

// Suggest proposes the next value to try, clamped to the coefficient's
// range. On strategy failure it returns the spec's initial value along
// with the error so the caller can fall back and report.
func (o *CoefficientOptimizer) Suggest() (float64, error) {
	oriented := make([]model.Observation, len(o.observations))
	for i, obs := range o.observations {
		obs.Score *= o.sign
		oriented[i] = obs
	}

	v, err := o.strategy.Suggest(o.spec, oriented)
	if err != nil {
		return o.spec.Clamp(o.spec.Initial), err
	}
	return o.spec.Clamp(v), nil
}

// Converged reports whether this coefficient is done, and why. The
// signal is advisory: the coordinator decides whether to advance.
func (o *CoefficientOptimizer) Converged() (bool, string) {
	n := len(o.observations)
	if o.params.MaxObservations > 0 && n >= o.params.MaxObservations {
		return true, ConvergedBudget
	}

	w := o.params.ConvergenceWindow
	if w < 2 || n < w {
		return false, ""
	}
	lo, hi := o.observations[n-w].Score, o.observations[n-w].Score
	for _, obs := range o.observations[n-w+1 : n] {
		if obs.Score < lo {
			lo = obs.Score
		}
		if obs.Score > hi {
			hi = obs.Score
		}
	}
	if hi-lo < o.params.ConvergenceEpsilon {
		return true, ConvergedPlateau
	}
	return false, ""
}

// Best returns the best observation under the sign convention.
func (o *CoefficientOptimizer) Best() (model.Observation, bool) {
	if len(o.observations) == 0 {
		return model.Observation{}, false
	}
	best := o.observations[0]
	for _, obs := range o.observations[1:] {
		if obs.Score*o.sign > best.Score*o.sign {
			best = obs
		}
	}
	return best, true
}

// Observations returns a copy of the history.
func (o *CoefficientOptimizer) Observations() []model.Observation {
	out := make([]model.Observation, len(o.observations))
	copy(out, o.observations)
	return out
}

// Reset discards the history. Backtracking restarts a coefficient from
// scratch rather than resuming a possibly poisoned surrogate.
func (o *CoefficientOptimizer) Reset() {
	o.observations = nil
}
