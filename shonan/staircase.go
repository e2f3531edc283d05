package shonan

import (
	"fmt"
	"math/rand/v2"

	"github.com/satoshi-pes/rotavg/son"
)

const (
	descentTrials = 25
	descentStep   = 1.
)

// dimensionLifting embeds every pose into SO(p), padding with identity.
func (a *Averaging) dimensionLifting(p int, values Values) (Values, error) {
	out := make(Values, len(values))
	for k, x := range values {
		lifted, err := x.Lift(p)
		if err != nil {
			return nil, fmt.Errorf("shonan: lifting pose %d: %w", k, err)
		}
		out[k] = lifted
	}
	return out, nil
}

// makeTangent spreads the certificate eigenvector over per-pose tangent
// blocks at level p: segment i lands on the generators pairing the new
// row with the three base axes, so retraction moves the poses out of
// the lifted saddle.
func (a *Averaging) makeTangent(p int, v []float64) ([][]float64, error) {
	if len(v) != a.blockDim() {
		return nil, fmt.Errorf("shonan: eigenvector length %d, want %d", len(v), a.blockDim())
	}
	dim := son.Dim(p)
	out := make([][]float64, a.NumPoses())
	for i := range out {
		xi := make([]float64, dim)
		for j := range baseDim {
			xi[son.PairIndex(p, j, p-1)] = v[baseDim*i+j]
		}
		out[i] = xi
	}
	return out, nil
}

// initializeWithDescent lifts the level p-1 estimate to level p and
// steps along the certificate eigenvector direction. Backtracking tries
// both signs of a halving step and accepts a point that lowers the cost
// below f0 and is far enough from critical for the next solve to make
// progress. If no step qualifies the start falls back to a seeded
// random draw.
func (a *Averaging) initializeWithDescent(p int, prev Values, eigVector []float64, f0 float64) (Values, error) {
	lifted, err := a.dimensionLifting(p, prev)
	if err != nil {
		return nil, err
	}
	ordered, err := a.orderedValues(p, lifted)
	if err != nil {
		return nil, err
	}
	xi, err := a.makeTangent(p, eigVector)
	if err != nil {
		return nil, err
	}

	dim := son.Dim(p)
	step := make([]float64, dim)
	t := descentStep
	for trial := 0; trial < descentTrials; trial, t = trial+1, t/2. {
		for _, sign := range []float64{1., -1.} {
			cand := make([]son.SOn, len(ordered))
			for i := range ordered {
				for k, v := range xi[i] {
					step[k] = sign * t * v
				}
				cand[i] = ordered[i].Retract(step)
			}

			f := a.costOrdered(cand, p)
			if f >= f0 {
				continue
			}
			gn := a.gradNormOrdered(cand, p)
			if gn < a.params.DescentPrecondTolerance {
				a.log.Warn().Float64("grad_norm", gn).Int("p", p).
					Msg("descent step landed near another critical point")
			}
			if gn <= a.params.DescentGradTolerance {
				continue
			}
			a.log.Debug().Int("p", p).Float64("step", sign*t).Float64("cost", f).
				Msg("descent initialization accepted")
			return a.valuesFromOrdered(cand), nil
		}
	}

	a.log.Warn().Int("p", p).Msg("descent line search exhausted, starting from random")
	return a.randomValuesAt(p, rand.NewPCG(a.params.Seed, uint64(p)<<16)), nil
}

// Run climbs the Riemannian staircase from pMin to pMax: solve the
// lifted problem, certify, and either round the certified estimate to
// SO(3) or lift to the next level. withDescent starts each new level
// from the previous estimate moved along the certificate eigenvector;
// otherwise levels start from independent random draws.
//
// The returned eigenvalue is the certificate minimum at the last level
// solved. When every level up to pMax fails to certify, Run returns the
// best estimate found with its negative eigenvalue and a nil error, so
// callers decide how to treat an uncertified result.
func (a *Averaging) Run(pMin, pMax int, withDescent bool) (Values, float64, error) {
	return a.RunFrom(nil, pMin, pMax, withDescent)
}

// RunFrom climbs the staircase from a caller-supplied estimate, lifted to
// the first level. InitializeChordally produces a good start; a nil start
// falls back to the seeded random draw of Run.
func (a *Averaging) RunFrom(start Values, pMin, pMax int, withDescent bool) (Values, float64, error) {
	if pMin < baseDim {
		return nil, 0., fmt.Errorf("shonan: pMin %d below %d", pMin, baseDim)
	}
	if pMax < pMin {
		return nil, 0., fmt.Errorf("shonan: pMax %d below pMin %d", pMax, pMin)
	}

	var initial Values
	var err error
	if start == nil {
		initial, err = a.InitializeRandomlyAt(pMin)
	} else {
		initial, err = a.dimensionLifting(pMin, start)
	}
	if err != nil {
		return nil, 0., err
	}

	var eigSeed []float64
	for p := pMin; ; p++ {
		result, err := a.optimizeWithRestarts(p, initial)
		if err != nil {
			return nil, 0., err
		}

		lambda, vector, err := a.ComputeMinEigenValueWithVector(result.Values, eigSeed)
		if err != nil {
			rounded, rerr := a.RoundSolution(result.Values)
			if rerr != nil {
				return nil, 0., rerr
			}
			return rounded, lambda, err
		}

		certified := lambda >= a.params.OptimalityThreshold
		a.log.Info().
			Int("p", p).
			Float64("cost", result.Cost).
			Float64("lambda_min", lambda).
			Bool("certified", certified).
			Msg("staircase level finished")

		if certified {
			rounded, err := a.RoundSolution(result.Values)
			if err != nil {
				return nil, 0., err
			}
			return rounded, lambda, nil
		}
		if p == pMax {
			a.log.Warn().Float64("lambda_min", lambda).
				Msg("staircase exhausted without certificate")
			rounded, err := a.RoundSolution(result.Values)
			if err != nil {
				return nil, 0., err
			}
			return rounded, lambda, nil
		}

		eigSeed = vector
		if withDescent {
			initial, err = a.initializeWithDescent(p+1, result.Values, vector, result.Cost)
		} else {
			initial, err = a.InitializeRandomlyAt(p + 1)
		}
		if err != nil {
			return nil, 0., err
		}
	}
}

// RunWithRandom climbs the staircase with random starts at every level.
func (a *Averaging) RunWithRandom(pMin, pMax int) (Values, float64, error) {
	return a.Run(pMin, pMax, false)
}

// RunWithDescent climbs the staircase starting each level from the
// lifted previous estimate moved along the certificate eigenvector.
func (a *Averaging) RunWithDescent(pMin, pMax int) (Values, float64, error) {
	return a.Run(pMin, pMax, true)
}
