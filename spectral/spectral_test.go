package spectral

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

// testMatrix returns a dense symmetric 20x20 matrix with known spectrum
// {-3, -3+8/19, ..., 5} via an orthogonal conjugation V diag(d) V'.
func testMatrix() *mat.Dense {
	const n = 20
	d := make([]float64, n)
	for i := range d {
		d[i] = -3. + 8.*float64(i)/float64(n-1)
	}
	v := son.Random(n, rand.NewPCG(2024, 1)).Matrix()

	var tmp, a mat.Dense
	tmp.Mul(v, mat.NewDiagDense(n, d))
	a.Mul(&tmp, v.T())
	return &a
}

func TestMinEigenKnownMatrix(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})
	want := (3. - math.Sqrt2) / 2.

	val, vec, err := MinEigen(a, Options{Tolerance: 1e-10})
	require.NoError(t, err)
	assert.InDelta(t, want, val, 1e-8)
	require.Len(t, vec, 2)

	// residual of the returned pair
	res := 0.
	for i := range 2 {
		av := a.At(i, 0)*vec[0] + a.At(i, 1)*vec[1]
		res += (av - val*vec[i]) * (av - val*vec[i])
	}
	assert.Less(t, math.Sqrt(res), 1e-8)
}

func TestMinEigenMatchesEigenSym(t *testing.T) {
	a := testMatrix()
	n, _ := a.Dims()

	// symmetrize exactly for the dense reference solver
	data := make([]float64, n*n)
	for i := range n {
		for j := range n {
			data[i*n+j] = (a.At(i, j) + a.At(j, i)) / 2.
		}
	}
	var es mat.EigenSym
	require.True(t, es.Factorize(mat.NewSymDense(n, data), false))
	want := es.Values(nil)[0]

	val, vec, err := MinEigen(a, Options{MaxIterations: 5000, Tolerance: 1e-9})
	require.NoError(t, err)
	assert.InDelta(t, want, val, 1e-7)
	assert.InDelta(t, -3., val, 1e-6)
	assert.InDelta(t, 1., floats.Norm(vec, 2), 1e-12)
}

func TestMinEigenSparse(t *testing.T) {
	a := testMatrix()
	n, _ := a.Dims()

	dok := sparse.NewDOK(n, n)
	for i := range n {
		for j := range n {
			dok.Set(i, j, a.At(i, j))
		}
	}

	val, _, err := MinEigen(dok.ToCSR(), Options{MaxIterations: 5000, Tolerance: 1e-9})
	require.NoError(t, err)

	ref, _, err := MinEigen(a, Options{MaxIterations: 5000, Tolerance: 1e-9})
	require.NoError(t, err)
	assert.InDelta(t, ref, val, 1e-8)
}

func TestSparseFastPath(t *testing.T) {
	dok := sparse.NewDOK(3, 3)
	dok.Set(0, 0, 2.)
	dok.Set(0, 2, -1.)
	dok.Set(2, 0, -1.)
	dok.Set(1, 1, 3.)
	dok.Set(2, 2, 4.)
	csr := dok.ToCSR()

	// the CSR type must satisfy gonum's traversal interface, or the
	// sparse branches of matVec and infNorm are unreachable
	require.Implements(t, (*mat.NonZeroDoer)(nil), csr)

	assert.Equal(t, []float64{-1., 6., 11.}, matVec(csr, []float64{1, 2, 3}))
	assert.Equal(t, 5., infNorm(csr))
}

func TestMinEigenSeeded(t *testing.T) {
	a := testMatrix()

	_, vec, err := MinEigen(a, Options{MaxIterations: 5000, Tolerance: 1e-9})
	require.NoError(t, err)

	// re-running from the solved eigenvector converges immediately
	val, _, err := MinEigen(a, Options{MaxIterations: 50, Tolerance: 1e-6, InitialVector: vec})
	require.NoError(t, err)
	assert.InDelta(t, -3., val, 1e-5)
}

func TestMinEigenMomentumModes(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})
	want := (3. - math.Sqrt2) / 2.

	for name, m := range map[string]float64{"plain": -1, "fixed": 0.1} {
		t.Run(name, func(t *testing.T) {
			val, _, err := MinEigen(a, Options{Tolerance: 1e-10, Momentum: m})
			require.NoError(t, err)
			assert.InDelta(t, want, val, 1e-8)
		})
	}
}

func TestMinEigenNotConverged(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})

	val, vec, err := MinEigen(a, Options{
		MaxIterations: 2,
		Tolerance:     1e-15,
		InitialVector: []float64{1, 0},
	})
	require.ErrorIs(t, err, ErrNotConverged)

	// the best pair so far is still reported
	assert.NotZero(t, val)
	assert.Len(t, vec, 2)
}

func TestMinEigenScaledIdentity(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{2, 0, 0, 0, 2, 0, 0, 0, 2})
	val, _, err := MinEigen(a, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 2., val, 1e-12)
}

func TestMinEigenInputErrors(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})

	_, _, err := MinEigen(mat.NewDense(2, 3, nil), Options{})
	require.Error(t, err)

	_, _, err = MinEigen(a, Options{InitialVector: []float64{1, 2, 3}})
	require.Error(t, err)

	_, _, err = MinEigen(a, Options{InitialVector: []float64{0, 0}})
	require.Error(t, err)
}
