package shonan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

func TestLambdaAtTruth(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	lambda, err := sa.ComputeLambda(truth)
	require.NoError(t, err)

	// At a noiseless optimum the multipliers equal the degree matrix.
	d := sa.DenseD()
	ld := lambda.ToDense()
	for i := range 12 {
		for j := range 12 {
			assert.InDelta(t, d.At(i, j), ld.At(i, j), 1e-12, "entry (%d,%d)", i, j)
		}
	}
}

func TestCertificateAtTruth(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	aa, err := sa.ComputeA(truth)
	require.NoError(t, err)

	// Lambda = D makes the certificate matrix the Laplacian itself.
	l := sa.DenseL()
	ad := aa.ToDense()
	for i := range 12 {
		for j := range 12 {
			assert.InDelta(t, l.At(i, j), ad.At(i, j), 1e-12, "entry (%d,%d)", i, j)
		}
	}

	lambda, vector, err := sa.ComputeMinEigenValueWithVector(truth, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0., lambda, 1e-7)
	assert.Len(t, vector, 12)

	certified, lmin, err := sa.CheckOptimality(truth)
	require.NoError(t, err)
	assert.True(t, certified)
	assert.InDelta(t, 0., lmin, 1e-7)
}

func TestCertificateRejectsPerturbed(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	// Flipping one pose by pi raises the cost far above the optimum,
	// which forces a negative eigenvalue in the certificate.
	flipped := truth.Copy()
	flipped[2] = truth[2].Mul(son.FromAxisAngle([3]float64{0., 0., 1.}, math.Pi))

	certified, lmin, err := sa.CheckOptimality(flipped)
	require.NoError(t, err)
	assert.False(t, certified)
	assert.Less(t, lmin, -0.5)
}

func TestMinEigenSeeded(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	lambda, vector, err := sa.ComputeMinEigenValueWithVector(truth, nil)
	require.NoError(t, err)

	seeded, _, err := sa.ComputeMinEigenValueWithVector(truth, vector)
	require.NoError(t, err)
	assert.InDelta(t, lambda, seeded, 1e-7)

	value, err := sa.ComputeMinEigenValue(truth)
	require.NoError(t, err)
	assert.InDelta(t, lambda, value, 1e-7)
}

// The trace of the multiplier matrix always equals tr(S Q S'), which is
// what makes a positive semidefinite certificate equivalent to global
// optimality even away from critical points.
func TestLambdaTraceIdentity(t *testing.T) {
	sa, _ := newRing(t, DefaultParameters())

	values, err := sa.InitializeRandomlyAt(4)
	require.NoError(t, err)

	lambda, err := sa.ComputeLambda(values)
	require.NoError(t, err)

	s, err := sa.StiefelElementMatrix(values)
	require.NoError(t, err)
	var sq, sqst mat.Dense
	sq.Mul(s, sa.Q())
	sqst.Mul(&sq, s.T())

	assert.InDelta(t, mat.Trace(&sqst), mat.Trace(lambda.ToDense()), 1e-9)
}

func TestCertifyValidation(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	partial := truth.Copy()
	delete(partial, 1)
	_, err := sa.ComputeA(partial)
	assert.Error(t, err)

	bad := mat.NewDense(3, 9, nil)
	_, err = sa.ComputeLambdaFromStiefel(bad)
	assert.Error(t, err)
}
