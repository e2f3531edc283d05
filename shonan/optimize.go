package shonan

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/satoshi-pes/rotavg/son"
)

// methodFor maps a parameter name to a gonum optimization method.
func methodFor(name string) (optimize.Method, error) {
	switch strings.ToLower(name) {
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	case "cg":
		return &optimize.CG{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "gradientdescent":
		return &optimize.GradientDescent{}, nil
	case "neldermead":
		return &optimize.NelderMead{}, nil
	}
	return nil, fmt.Errorf("shonan: unknown optimization method %q", name)
}

// OptimizationResult reports one solve of the lifted objective.
type OptimizationResult struct {
	// Values holds the SO(p) estimate at the final chart center.
	Values Values
	// Cost is the lifted objective at Values.
	Cost float64
	// GradNorm is the Riemannian gradient norm at Values.
	GradNorm float64
	// Iterations counts inner solver iterations summed over charts.
	Iterations int
	// Converged reports whether GradNorm reached GradientTolerance.
	Converged bool
	// Status describes the stopping condition.
	Status string
}

// retractOrdered moves every pose along its tangent block of x.
func (a *Averaging) retractOrdered(center []son.SOn, p int, x []float64) []son.SOn {
	dim := son.Dim(p)
	out := make([]son.SOn, len(center))
	for i, c := range center {
		out[i] = c.Retract(x[i*dim : (i+1)*dim])
	}
	return out
}

// gradNormOrdered is the Frobenius norm of the stacked gradient blocks.
func (a *Averaging) gradNormOrdered(ordered []son.SOn, p int) float64 {
	acc := 0.
	for _, g := range a.gradOrdered(ordered, p) {
		for _, v := range g {
			acc += v * v
		}
	}
	return math.Sqrt(acc)
}

// karcherSum accumulates the per-pose tangent blocks of x.
func karcherSum(x []float64, dim int) []float64 {
	sum := make([]float64, dim)
	for i := 0; i*dim < len(x); i++ {
		floats.Add(sum, x[i*dim:(i+1)*dim])
	}
	return sum
}

// chartCost evaluates the objective in the tangent chart at center,
// adding the gauge penalty on the mean tangent coordinate when enabled.
func (a *Averaging) chartCost(center []son.SOn, p int, x []float64) float64 {
	f := a.costOrdered(a.retractOrdered(center, p, x), p)
	if a.params.Karcher {
		sum := karcherSum(x, son.Dim(p))
		f += a.params.KarcherWeight * floats.Dot(sum, sum)
	}
	return f
}

// chartGrad writes the chart gradient into dst. The rotation term uses
// the body-frame gradient at the retracted point, which is exact at the
// chart center and first order accurate nearby.
func (a *Averaging) chartGrad(dst []float64, center []son.SOn, p int, x []float64) {
	dim := son.Dim(p)
	blocks := a.gradOrdered(a.retractOrdered(center, p, x), p)
	for i, g := range blocks {
		copy(dst[i*dim:(i+1)*dim], g)
	}
	if a.params.Karcher {
		sum := karcherSum(x, dim)
		for i := range blocks {
			for k := range dim {
				dst[i*dim+k] += 2. * a.params.KarcherWeight * sum[k]
			}
		}
	}
}

// TryOptimizingAt minimizes the lifted objective at level p starting
// from initial. The solve alternates gonum minimization in a tangent
// chart with re-centering at the retracted estimate, so charts stay
// near their center where the pulled-back gradient is exact.
func (a *Averaging) TryOptimizingAt(p int, initial Values) (*OptimizationResult, error) {
	center, err := a.orderedValues(p, initial)
	if err != nil {
		return nil, err
	}
	method, err := methodFor(a.params.Method)
	if err != nil {
		return nil, err
	}

	dim := son.Dim(p)
	nvar := len(center) * dim
	iters := 0
	converged := false
	status := "chart limit reached"

	for round := 0; ; round++ {
		gn := a.gradNormOrdered(center, p)
		if gn <= a.params.GradientTolerance {
			converged = true
			status = "gradient below tolerance"
			break
		}
		if round >= a.params.MaxIterations {
			break
		}

		c := center
		problem := optimize.Problem{
			Func: func(x []float64) float64 { return a.chartCost(c, p, x) },
			Grad: func(dst, x []float64) { a.chartGrad(dst, c, p, x) },
		}
		settings := &optimize.Settings{
			GradientThreshold: a.params.GradientTolerance,
			MajorIterations:   a.params.InnerIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   a.params.FunctionTolerance,
				Iterations: 10,
			},
		}

		prev := a.costOrdered(center, p)
		result, rerr := optimize.Minimize(problem, make([]float64, nvar), settings, method)
		if result == nil {
			return nil, fmt.Errorf("shonan: optimize at p=%d: %w", p, rerr)
		}
		iters += result.MajorIterations
		if rerr != nil {
			a.log.Debug().Err(rerr).Int("p", p).Int("round", round).Msg("inner solve stopped early")
		}

		center = a.retractOrdered(center, p, result.X)
		if prev-a.costOrdered(center, p) <= a.params.FunctionTolerance {
			status = "cost decrease below tolerance"
			break
		}
	}

	cost := a.costOrdered(center, p)
	gn := a.gradNormOrdered(center, p)
	if gn <= a.params.GradientTolerance {
		converged = true
		status = "gradient below tolerance"
	}
	a.log.Debug().
		Int("p", p).
		Float64("cost", cost).
		Float64("grad_norm", gn).
		Int("iterations", iters).
		Bool("converged", converged).
		Msg("lifted solve finished")

	return &OptimizationResult{
		Values:     a.valuesFromOrdered(center),
		Cost:       cost,
		GradNorm:   gn,
		Iterations: iters,
		Converged:  converged,
		Status:     status,
	}, nil
}

// optimizeWithRestarts runs TryOptimizingAt from initial plus
// RandomRestarts independent random starts in parallel, keeping the
// lowest-cost result. Restart draws are seeded per level and attempt,
// so the outcome does not depend on scheduling.
func (a *Averaging) optimizeWithRestarts(p int, initial Values) (*OptimizationResult, error) {
	n := a.params.RandomRestarts
	if n <= 0 {
		return a.TryOptimizingAt(p, initial)
	}

	results := make([]*OptimizationResult, n+1)
	var g errgroup.Group
	g.Go(func() error {
		r, err := a.TryOptimizingAt(p, initial)
		results[0] = r
		return err
	})
	for attempt := 1; attempt <= n; attempt++ {
		g.Go(func() error {
			src := rand.NewPCG(a.params.Seed, uint64(p)<<8+uint64(attempt))
			r, err := a.TryOptimizingAt(p, a.randomValuesAt(p, src))
			results[attempt] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Cost < best.Cost {
			best = r
		}
	}
	return best, nil
}
