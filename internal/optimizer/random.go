package optimizer

import (
	"math/rand"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// RandomStrategy suggests uniform random values in the coefficient's
// range. It exists as a baseline to compare the surrogate against and
// as proof the strategy seam is real.
type RandomStrategy struct {
	rng *rand.Rand
}

func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomStrategy) Name() string { return "random" }

func (r *RandomStrategy) Suggest(spec model.CoefficientSpec, _ []model.Observation) (float64, error) {
	return spec.Min + r.rng.Float64()*(spec.Max-spec.Min), nil
}
