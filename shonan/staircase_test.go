package shonan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

func TestMakeTangent(t *testing.T) {
	sa, _ := newRing(t, DefaultParameters())

	v := []float64{
		1., 2., 3.,
		4., 5., 6.,
		7., 8., 9.,
		10., 11., 12.,
	}
	xi, err := sa.makeTangent(4, v)
	require.NoError(t, err)
	require.Len(t, xi, 4)

	// Segment i sits on the pairs (j, 3) of the tangent basis.
	for i := range 4 {
		want := make([]float64, son.Dim(4))
		want[son.PairIndex(4, 0, 3)] = v[3*i]
		want[son.PairIndex(4, 1, 3)] = v[3*i+1]
		want[son.PairIndex(4, 2, 3)] = v[3*i+2]
		assert.Equal(t, want, xi[i], "pose %d", i)
	}

	_, err = sa.makeTangent(4, []float64{1., 2., 3.})
	assert.Error(t, err)
}

func TestDimensionLifting(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	lifted, err := sa.dimensionLifting(6, truth)
	require.NoError(t, err)
	for _, k := range sa.PoseKeys() {
		require.Equal(t, 6, lifted[k].N())
		assertProper(t, lifted[k], 1e-12)
		for i := range 3 {
			for j := range 3 {
				assert.Equal(t, truth[k].At(i, j), lifted[k].At(i, j))
			}
		}
	}

	_, err = sa.dimensionLifting(2, truth)
	assert.Error(t, err)
}

func TestInitializeWithDescent(t *testing.T) {
	sa, truth := newRing(t, DefaultParameters())

	t.Run("accepts a descending step", func(t *testing.T) {
		v := make([]float64, 12)
		for i := range v {
			v[i] = 1.
		}
		// Against a stated cost above the optimum any small step along
		// the direction descends, so the search must accept one that
		// keeps a workable gradient.
		out, err := sa.initializeWithDescent(4, truth, v, 1.)
		require.NoError(t, err)

		cost, err := sa.CostAt(4, out)
		require.NoError(t, err)
		assert.Less(t, cost, 1.)

		ordered, err := sa.orderedValues(4, out)
		require.NoError(t, err)
		assert.Greater(t, sa.gradNormOrdered(ordered, 4), sa.Parameters().DescentGradTolerance)
	})

	t.Run("falls back to random at the optimum", func(t *testing.T) {
		v := make([]float64, 12)
		v[0] = 1.
		out, err := sa.initializeWithDescent(4, truth, v, 0.)
		require.NoError(t, err)
		require.Len(t, out, 4)
		for _, k := range sa.PoseKeys() {
			assert.Equal(t, 4, out[k].N())
			assertProper(t, out[k], 1e-9)
		}

		// The fallback draw is seeded, so it repeats.
		again, err := sa.initializeWithDescent(4, truth, v, 0.)
		require.NoError(t, err)
		for _, k := range sa.PoseKeys() {
			assert.True(t, mat.Equal(out[k].Matrix(), again[k].Matrix()))
		}
	})

	t.Run("rejects short eigenvector", func(t *testing.T) {
		_, err := sa.initializeWithDescent(4, truth, []float64{1.}, 1.)
		assert.Error(t, err)
	})
}

func TestRunCertifiesNoiseless(t *testing.T) {
	params := DefaultParameters()
	params.RandomRestarts = 4
	sa, truth := newRing(t, params)

	values, lambda, err := sa.Run(3, 10, false)
	require.NoError(t, err)
	require.Len(t, values, 4)

	assert.GreaterOrEqual(t, lambda, params.OptimalityThreshold)
	assert.InDelta(t, 0., lambda, 1e-6)
	for _, k := range sa.PoseKeys() {
		require.Equal(t, 3, values[k].N())
		assertProper(t, values[k], 1e-9)
	}
	assertGaugeAligned(t, values, truth, 1e-5)
}

func TestRunWithDescentCertifies(t *testing.T) {
	params := DefaultParameters()
	params.RandomRestarts = 2
	sa, truth := newRing(t, params)

	values, lambda, err := sa.RunWithDescent(3, 6)
	require.NoError(t, err)
	assert.InDelta(t, 0., lambda, 1e-6)
	assertGaugeAligned(t, values, truth, 1e-5)
}

func TestRunDeterministic(t *testing.T) {
	params := DefaultParameters()
	params.RandomRestarts = 2

	truth := ringTruth()
	sa1, err := New(ringMeasurements(truth), params)
	require.NoError(t, err)
	sa2, err := New(ringMeasurements(truth), params)
	require.NoError(t, err)

	v1, l1, err := sa1.Run(3, 6, false)
	require.NoError(t, err)
	v2, l2, err := sa2.Run(3, 6, false)
	require.NoError(t, err)

	assert.Equal(t, l1, l2)
	for _, k := range sa1.PoseKeys() {
		assert.True(t, mat.Equal(v1[k].Matrix(), v2[k].Matrix()), "key %d", k)
	}
}

func TestRunExhaustedStaircase(t *testing.T) {
	params := DefaultParameters()
	// An unreachable threshold forces the staircase to its cap.
	params.OptimalityThreshold = 1.
	sa, _ := newRing(t, params)

	values, lambda, err := sa.Run(3, 4, false)
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Less(t, lambda, 1.)
	for _, k := range sa.PoseKeys() {
		require.Equal(t, 3, values[k].N())
		assertProper(t, values[k], 1e-9)
	}
}

func TestRunValidation(t *testing.T) {
	sa, _ := newRing(t, DefaultParameters())

	_, _, err := sa.Run(2, 5, false)
	assert.Error(t, err)

	_, _, err = sa.Run(5, 4, false)
	assert.Error(t, err)
}
