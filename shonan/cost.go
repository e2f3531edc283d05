package shonan

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

// orderedValues checks values against the key set and lays them out in
// block order.
func (a *Averaging) orderedValues(p int, values Values) ([]son.SOn, error) {
	if err := a.checkValues(p, values); err != nil {
		return nil, err
	}
	out := make([]son.SOn, len(a.keys))
	for i, k := range a.keys {
		out[i] = values[k]
	}
	return out, nil
}

// valuesFromOrdered is the inverse of orderedValues.
func (a *Averaging) valuesFromOrdered(ordered []son.SOn) Values {
	out := make(Values, len(ordered))
	for i, k := range a.keys {
		out[k] = ordered[i]
	}
	return out
}

// stiefelOrdered stacks the first baseDim columns of every rotation into
// the p x 3N element matrix.
func (a *Averaging) stiefelOrdered(ordered []son.SOn, p int) *mat.Dense {
	s := mat.NewDense(p, a.blockDim(), nil)
	for i, x := range ordered {
		for r := range p {
			for c := range baseDim {
				s.Set(r, baseDim*i+c, x.At(r, c))
			}
		}
	}
	return s
}

// StiefelElementMatrix stacks the Stiefel blocks of a lifted value set
// into the p x 3N matrix used by the certifier and the rounding step.
func (a *Averaging) StiefelElementMatrix(values Values) (*mat.Dense, error) {
	if len(a.keys) == 0 {
		return nil, ErrEmptyGraph
	}
	first, ok := values[a.keys[0]]
	if !ok {
		return nil, fmt.Errorf("shonan: values missing key %d", a.keys[0])
	}
	ordered, err := a.orderedValues(first.N(), values)
	if err != nil {
		return nil, err
	}
	return a.stiefelOrdered(ordered, first.N()), nil
}

// timesLaplacian returns S*L, expanding the sparse Laplacian column by
// column.
func (a *Averaging) timesLaplacian(s *mat.Dense) *mat.Dense {
	p, n := s.Dims()
	y := mat.NewDense(p, n, nil)
	a.l.DoNonZero(func(i, j int, v float64) {
		for r := range p {
			y.Set(r, j, y.At(r, j)+v*s.At(r, i))
		}
	})
	return y
}

// costOrdered evaluates the lifted objective: the quadratic form
// tr(S L S') plus the anchor prior when enabled.
func (a *Averaging) costOrdered(ordered []son.SOn, p int) float64 {
	s := a.stiefelOrdered(ordered, p)
	y := a.timesLaplacian(s)

	f := 0.
	for r := range p {
		for c := range a.blockDim() {
			f += s.At(r, c) * y.At(r, c)
		}
	}
	if a.params.Prior {
		f += a.priorCost(ordered[0], p)
	}
	return f
}

// priorCost is the Frobenius anchor w*|X0 - I|^2 = w*(2p - 2 tr(X0)),
// zero exactly when the anchored pose is the identity.
func (a *Averaging) priorCost(x0 son.SOn, p int) float64 {
	return a.params.PriorWeight * (2.*float64(p) - 2.*mat.Trace(x0.Matrix()))
}

// gradOrdered computes the Riemannian gradient blocks in the tangent
// basis of son: for the Euclidean gradient 2*S*L, the body-frame component
// of pose i at pair (r, c) is 2*(M[c][r] - M[r][c]) with M = Xi' * (S*L)_i,
// entries outside the Stiefel columns reading as zero.
func (a *Averaging) gradOrdered(ordered []son.SOn, p int) [][]float64 {
	s := a.stiefelOrdered(ordered, p)
	y := a.timesLaplacian(s)
	dim := son.Dim(p)

	out := make([][]float64, len(ordered))
	for i, x := range ordered {
		// M = Xi' * Yi, p x baseDim
		m := make([]float64, p*baseDim)
		for r := range p {
			for c := range baseDim {
				acc := 0.
				for t := range p {
					acc += x.At(t, r) * y.At(t, baseDim*i+c)
				}
				m[r*baseDim+c] = acc
			}
		}

		g := make([]float64, dim)
		k := 0
		for r := range p {
			for c := r + 1; c < p; c++ {
				v := 0.
				if r < baseDim {
					v += 2. * m[c*baseDim+r]
				}
				if c < baseDim {
					v -= 2. * m[r*baseDim+c]
				}
				g[k] = v
				k++
			}
		}
		out[i] = g
	}

	if a.params.Prior {
		a.addPriorGrad(out[0], ordered[0], p)
	}
	return out
}

// addPriorGrad adds the anchor prior gradient -2w*(X[r][c] - X[c][r]) to
// the anchored pose block.
func (a *Averaging) addPriorGrad(g []float64, x0 son.SOn, p int) {
	w := a.params.PriorWeight
	k := 0
	for r := range p {
		for c := r + 1; c < p; c++ {
			g[k] -= 2. * w * (x0.At(r, c) - x0.At(c, r))
			k++
		}
	}
}

// LiftedCost is the optimization objective over SO(p) values built by
// BuildCostAt. It shares the assembled Laplacian of its Averaging.
type LiftedCost struct {
	a *Averaging
	p int
}

// BuildCostAt returns the lifted objective at level p.
func (a *Averaging) BuildCostAt(p int) (*LiftedCost, error) {
	if p < baseDim {
		return nil, fmt.Errorf("shonan: lifting level %d below %d", p, baseDim)
	}
	return &LiftedCost{a: a, p: p}, nil
}

// P returns the lifting level of the objective.
func (c *LiftedCost) P() int { return c.p }

// Cost evaluates the objective.
func (c *LiftedCost) Cost(values Values) (float64, error) {
	ordered, err := c.a.orderedValues(c.p, values)
	if err != nil {
		return 0., err
	}
	return c.a.costOrdered(ordered, c.p), nil
}

// Gradient returns the Riemannian gradient per pose key, each block a
// tangent vector of length p(p-1)/2.
func (c *LiftedCost) Gradient(values Values) (map[Key][]float64, error) {
	ordered, err := c.a.orderedValues(c.p, values)
	if err != nil {
		return nil, err
	}
	blocks := c.a.gradOrdered(ordered, c.p)
	out := make(map[Key][]float64, len(blocks))
	for i, k := range c.a.keys {
		out[k] = blocks[i]
	}
	return out, nil
}

// CostAt evaluates the lifted objective at level p.
func (a *Averaging) CostAt(p int, values Values) (float64, error) {
	cost, err := a.BuildCostAt(p)
	if err != nil {
		return 0., err
	}
	return cost.Cost(values)
}

// Cost evaluates the objective on SO(3) values.
func (a *Averaging) Cost(values Values) (float64, error) {
	return a.CostAt(baseDim, values)
}

// RiemannianGradient returns the gradient of the lifted objective at
// level p, per pose key.
func (a *Averaging) RiemannianGradient(p int, values Values) (map[Key][]float64, error) {
	cost, err := a.BuildCostAt(p)
	if err != nil {
		return nil, err
	}
	return cost.Gradient(values)
}

// randomValuesAt draws one independent rotation per pose from src.
func (a *Averaging) randomValuesAt(p int, src rand.Source) Values {
	out := make(Values, len(a.keys))
	for _, k := range a.keys {
		out[k] = son.Random(p, src)
	}
	return out
}

// InitializeRandomlyAt returns Haar-random SO(p) values for every pose.
// The draw is deterministic in the configured seed and p: repeated calls
// return identical values.
func (a *Averaging) InitializeRandomlyAt(p int) (Values, error) {
	if p < baseDim {
		return nil, fmt.Errorf("shonan: lifting level %d below %d", p, baseDim)
	}
	return a.randomValuesAt(p, rand.NewPCG(a.params.Seed, uint64(p))), nil
}
