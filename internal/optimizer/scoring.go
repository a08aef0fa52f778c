package optimizer

import (
	"fmt"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// Scoring policy names accepted in configuration.
const (
	PolicyHitRate         = "hit_rate"
	PolicyWeightedHitRate = "weighted_hit_rate"
)

// Scorer reduces a batch of shot samples to a single scalar score. The
// score's raw orientation is "higher is better"; the sign convention is
// applied by the coefficient optimizer, not here.
type Scorer interface {
	Name() string
	Score(samples []model.ShotSample) float64
}

// NewScorer resolves a configured policy name.
func NewScorer(policy string) (Scorer, error) {
	switch policy {
	case PolicyHitRate:
		return hitRateScorer{}, nil
	case PolicyWeightedHitRate:
		return weightedHitRateScorer{}, nil
	}
	return nil, fmt.Errorf("unknown scoring policy %q", policy)
}

// hitRateScorer scores a batch as the plain fraction of hits.
type hitRateScorer struct{}

func (hitRateScorer) Name() string { return PolicyHitRate }

func (hitRateScorer) Score(samples []model.ShotSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	hits := 0
	for _, s := range samples {
		if s.Hit {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

// weightedHitRateScorer weights each shot by its distance, so a made
// shot from across the field counts for more than a point-blank one.
type weightedHitRateScorer struct{}

func (weightedHitRateScorer) Name() string { return PolicyWeightedHitRate }

func (weightedHitRateScorer) Score(samples []model.ShotSample) float64 {
	var total, made float64
	for _, s := range samples {
		w := s.Distance
		if w <= 0 {
			w = 1
		}
		total += w
		if s.Hit {
			made += w
		}
	}
	if total == 0 {
		return 0
	}
	return made / total
}
