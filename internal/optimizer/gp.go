package optimizer

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// ErrSurrogateSingular is returned when the kernel matrix cannot be
// factorized, typically because every observation landed on the same
// value. The caller falls back rather than aborting the session.
var ErrSurrogateSingular = errors.New("optimizer: surrogate kernel matrix is not positive definite")

// GPStrategy is a one-dimensional Bayesian optimizer. It fits a Gaussian
// process with an RBF kernel over the observation history (values
// normalized to [0, 1]) and suggests the candidate maximizing expected
// improvement. The first nInitialPoints suggestions are a deterministic
// space-filling sweep of the coefficient's range so the surrogate has
// spread-out support before it starts steering.
type GPStrategy struct {
	nInitialPoints int

	// lengthScale and noise are in normalized coordinates.
	lengthScale float64
	noise       float64

	// xi trades off exploration against exploitation in the expected
	// improvement acquisition.
	xi float64

	gridSize int
}

func NewGPStrategy(nInitialPoints int) *GPStrategy {
	if nInitialPoints < 1 {
		nInitialPoints = 1
	}
	return &GPStrategy{
		nInitialPoints: nInitialPoints,
		lengthScale:    0.15,
		noise:          1e-4,
		xi:             0.01,
		gridSize:       101,
	}
}

func (g *GPStrategy) Name() string { return "gp_ei" }

func (g *GPStrategy) Suggest(spec model.CoefficientSpec, observations []model.Observation) (float64, error) {
	if len(observations) < g.nInitialPoints {
		return g.seedPoint(spec, len(observations)), nil
	}

	span := spec.Max - spec.Min
	n := len(observations)

	xs := make([]float64, n)
	ys := make([]float64, n)
	best := math.Inf(-1)
	var mean float64
	for i, obs := range observations {
		xs[i] = (obs.Value - spec.Min) / span
		ys[i] = obs.Score
		mean += obs.Score
		if obs.Score > best {
			best = obs.Score
		}
	}
	mean /= float64(n)

	kern := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.rbf(xs[i], xs[j])
			if i == j {
				v += g.noise
			}
			kern.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(kern); !ok {
		return spec.Initial, ErrSurrogateSingular
	}

	centered := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		centered.SetVec(i, ys[i]-mean)
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, centered); err != nil {
		return spec.Initial, ErrSurrogateSingular
	}

	std := distuv.Normal{Mu: 0, Sigma: 1}
	bestEI := math.Inf(-1)
	bestZ := xs[0]

	kstar := mat.NewVecDense(n, nil)
	v := mat.NewVecDense(n, nil)
	for c := 0; c < g.gridSize; c++ {
		z := float64(c) / float64(g.gridSize-1)
		for i := 0; i < n; i++ {
			kstar.SetVec(i, g.rbf(z, xs[i]))
		}

		mu := mean + mat.Dot(kstar, alpha)

		if err := chol.SolveVecTo(v, kstar); err != nil {
			return spec.Initial, ErrSurrogateSingular
		}
		variance := 1 + g.noise - mat.Dot(kstar, v)
		if variance < 0 {
			variance = 0
		}
		sigma := math.Sqrt(variance)

		var ei float64
		if sigma > 1e-12 {
			impr := mu - best - g.xi
			zscore := impr / sigma
			ei = impr*std.CDF(zscore) + sigma*std.Prob(zscore)
		}
		if ei > bestEI {
			bestEI = ei
			bestZ = z
		}
	}

	return spec.Clamp(spec.Min + bestZ*span), nil
}

// seedPoint returns the i-th of nInitialPoints evenly spaced values,
// offset half a cell from the bounds so extremes are not probed first.
func (g *GPStrategy) seedPoint(spec model.CoefficientSpec, i int) float64 {
	span := spec.Max - spec.Min
	frac := (float64(i) + 0.5) / float64(g.nInitialPoints)
	return spec.Clamp(spec.Min + frac*span)
}

func (g *GPStrategy) rbf(a, b float64) float64 {
	d := (a - b) / g.lengthScale
	return math.Exp(-0.5 * d * d)
}
