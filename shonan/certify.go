package shonan

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/spectral"
)

// ComputeLambdaFromStiefel builds the block-diagonal Lagrange multiplier
// matrix for the Stiefel stack s: block i is the symmetric part of
// (Q S')_i S_i. At a global minimizer the multipliers certify optimality
// through ComputeA.
func (a *Averaging) ComputeLambdaFromStiefel(s *mat.Dense) (*sparse.CSR, error) {
	p, cols := s.Dims()
	n := a.blockDim()
	if cols != n {
		return nil, fmt.Errorf("shonan: stiefel matrix has %d columns, want %d", cols, n)
	}

	// T = Q * S', 3N x p
	t := mat.NewDense(n, p, nil)
	a.q.DoNonZero(func(i, j int, v float64) {
		for r := range p {
			t.Set(i, r, t.At(i, r)+v*s.At(r, j))
		}
	})

	rows := make([]map[int]float64, n)
	for i := range a.NumPoses() {
		for r := range baseDim {
			for c := range baseDim {
				// B[r][c] = row 3i+r of T dot column 3i+c of S
				b, bt := 0., 0.
				for k := range p {
					b += t.At(baseDim*i+r, k) * s.At(k, baseDim*i+c)
					bt += t.At(baseDim*i+c, k) * s.At(k, baseDim*i+r)
				}
				addEntry(rows, baseDim*i+r, baseDim*i+c, (b+bt)/2.)
			}
		}
	}
	return assembleCSR(n, rows), nil
}

// ComputeLambda builds the Lagrange multiplier matrix for a lifted
// value set.
func (a *Averaging) ComputeLambda(values Values) (*sparse.CSR, error) {
	s, err := a.StiefelElementMatrix(values)
	if err != nil {
		return nil, err
	}
	return a.ComputeLambdaFromStiefel(s)
}

// ComputeA assembles the certificate matrix Lambda - Q. The estimate is
// globally optimal exactly when this matrix is positive semidefinite,
// and at a noiseless solution it equals the graph Laplacian.
func (a *Averaging) ComputeA(values Values) (*sparse.CSR, error) {
	lambda, err := a.ComputeLambda(values)
	if err != nil {
		return nil, err
	}

	n := a.blockDim()
	rows := make([]map[int]float64, n)
	lambda.DoNonZero(func(i, j int, v float64) {
		addEntry(rows, i, j, v)
	})
	a.q.DoNonZero(func(i, j int, v float64) {
		addEntry(rows, i, j, -v)
	})
	return assembleCSR(n, rows), nil
}

// minEigen runs the spectral solver on the certificate matrix.
func (a *Averaging) minEigen(values Values, seed []float64) (float64, []float64, error) {
	m, err := a.ComputeA(values)
	if err != nil {
		return 0., nil, err
	}
	value, vector, err := spectral.MinEigen(m, spectral.Options{
		MaxIterations: a.params.EigMaxIterations,
		Tolerance:     a.params.EigTolerance,
		InitialVector: seed,
	})
	if err != nil {
		return value, vector, fmt.Errorf("shonan: minimum eigenvalue of certificate: %w", err)
	}
	return value, vector, nil
}

// ComputeMinEigenValue returns the minimum eigenvalue of the
// certificate matrix at values.
func (a *Averaging) ComputeMinEigenValue(values Values) (float64, error) {
	value, _, err := a.minEigen(values, nil)
	return value, err
}

// ComputeMinEigenValueWithVector returns the minimum eigenpair of the
// certificate matrix. A non-nil seed of length 3N warm starts the
// iteration, which pays off across staircase levels where consecutive
// certificates share their bottom eigenspace.
func (a *Averaging) ComputeMinEigenValueWithVector(values Values, seed []float64) (float64, []float64, error) {
	return a.minEigen(values, seed)
}

// CheckOptimality certifies a lifted estimate: it reports whether the
// minimum eigenvalue of the certificate matrix clears the configured
// threshold, together with the eigenvalue itself. The threshold is
// slightly negative so that numerically zero eigenvalues certify.
func (a *Averaging) CheckOptimality(values Values) (bool, float64, error) {
	value, _, err := a.minEigen(values, nil)
	if err != nil {
		return false, value, err
	}
	return value >= a.params.OptimalityThreshold, value, nil
}
