package son

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func ExampleFromAxisAngle() {
	r := FromAxisAngle([3]float64{0, 0, 1}, math.Pi/2)

	var out mat.VecDense
	out.MulVec(r.Matrix(), mat.NewVecDense(3, []float64{1, 0, 0}))

	fmt.Printf("%.1f %.1f %.1f\n", out.AtVec(0), out.AtVec(1), out.AtVec(2))
	// Output: 0.0 1.0 0.0
}

// checkProper asserts that r is orthogonal with determinant +1.
func checkProper(t *testing.T, r SOn, tol float64) {
	t.Helper()
	n := r.N()
	var g mat.Dense
	g.Mul(r.Matrix().T(), r.Matrix())
	for i := range n {
		for j := range n {
			want := 0.
			if i == j {
				want = 1.
			}
			assert.InDelta(t, want, g.At(i, j), tol, "R'R entry (%d,%d)", i, j)
		}
	}
	assert.InDelta(t, 1., mat.Det(r.Matrix()), tol, "determinant")
}

func TestIdentity(t *testing.T) {
	r := Identity(3)
	assert.Equal(t, 3, r.N())
	assert.Equal(t, 3, r.Dim())
	assert.True(t, mat.Equal(r.Matrix(), mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})))

	assert.Equal(t, 10, Identity(5).Dim())
}

func TestFromMatrix(t *testing.T) {
	r, err := FromMatrix(FromAxisAngle([3]float64{1, 2, 3}, 0.8).Matrix())
	require.NoError(t, err)
	checkProper(t, r, 1e-12)

	// not orthogonal
	_, err = FromMatrix(mat.NewDense(3, 3, []float64{2, 0, 0, 0, 1, 0, 0, 0, 1}))
	require.Error(t, err)

	// orthogonal but a reflection
	_, err = FromMatrix(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1}))
	require.Error(t, err)

	// not square
	_, err = FromMatrix(mat.NewDense(2, 3, nil))
	require.Error(t, err)
}

func TestFromAxisAngle(t *testing.T) {
	tests := []struct {
		name  string
		axis  [3]float64
		angle float64
		want  []float64
	}{
		{"z quarter turn", [3]float64{0, 0, 1}, math.Pi / 2, []float64{
			0, -1, 0,
			1, 0, 0,
			0, 0, 1,
		}},
		{"x quarter turn", [3]float64{1, 0, 0}, math.Pi / 2, []float64{
			1, 0, 0,
			0, 0, -1,
			0, 1, 0,
		}},
		{"unnormalized axis", [3]float64{0, 0, 5}, math.Pi / 2, []float64{
			0, -1, 0,
			1, 0, 0,
			0, 0, 1,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := FromAxisAngle(tc.axis, tc.angle)
			want := mat.NewDense(3, 3, tc.want)
			for i := range 3 {
				for j := range 3 {
					assert.InDelta(t, want.At(i, j), r.At(i, j), 1e-12)
				}
			}
		})
	}
}

func TestAngle(t *testing.T) {
	for _, theta := range []float64{0., 0.3, 1.5, 3.0} {
		r := FromAxisAngle([3]float64{1, -1, 2}, theta)
		assert.InDelta(t, theta, r.Angle(), 1e-8)
	}
}

func TestHatVee(t *testing.T) {
	for _, n := range []int{3, 4, 5} {
		xi := make([]float64, Dim(n))
		for k := range xi {
			xi[k] = 0.1*float64(k) + 0.05
		}
		w := Hat(n, xi)

		// skew-symmetry
		for i := range n {
			for j := range n {
				assert.Equal(t, w.At(i, j), -w.At(j, i))
			}
		}
		assert.Equal(t, xi, Vee(w))
	}
}

func TestPairIndex(t *testing.T) {
	tests := []struct {
		n, i, j, want int
	}{
		{3, 0, 1, 0}, {3, 0, 2, 1}, {3, 1, 2, 2},
		{4, 0, 1, 0}, {4, 0, 2, 1}, {4, 0, 3, 2},
		{4, 1, 2, 3}, {4, 1, 3, 4}, {4, 2, 3, 5},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, PairIndex(tc.n, tc.i, tc.j), "n=%d (%d,%d)", tc.n, tc.i, tc.j)
	}
}

func TestRetractLocalCoordinates(t *testing.T) {
	xi := []float64{0.1, -0.2, 0.3}

	got, err := Identity(3).LocalCoordinates(Identity(3).Retract(xi))
	require.NoError(t, err)
	for k := range xi {
		assert.InDelta(t, xi[k], got[k], 1e-10)
	}

	// centered away from the identity
	base := FromAxisAngle([3]float64{2, 0, -1}, 1.2)
	got, err = base.LocalCoordinates(base.Retract(xi))
	require.NoError(t, err)
	for k := range xi {
		assert.InDelta(t, xi[k], got[k], 1e-10)
	}

	// no closed form above n == 3
	r5 := Random(5, rand.NewPCG(7, 7))
	_, err = r5.LocalCoordinates(Identity(5))
	require.Error(t, err)
}

func TestLocalCoordinatesNearPi(t *testing.T) {
	r := FromAxisAngle([3]float64{0, 0, 1}, math.Pi)
	xi, err := Identity(3).LocalCoordinates(r)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi, math.Abs(xi[0]), 1e-9)
	assert.InDelta(t, 0., xi[1], 1e-9)
	assert.InDelta(t, 0., xi[2], 1e-9)

	// round trip for a skew axis
	r = FromAxisAngle([3]float64{1, 1, 1}, math.Pi)
	xi, err = Identity(3).LocalCoordinates(r)
	require.NoError(t, err)
	back := Identity(3).Retract(xi)
	for i := range 3 {
		for j := range 3 {
			assert.InDelta(t, r.At(i, j), back.At(i, j), 1e-6)
		}
	}
}

func TestRetractHigherDimension(t *testing.T) {
	xi := make([]float64, Dim(5))
	xi[PairIndex(5, 0, 4)] = 0.4
	xi[PairIndex(5, 2, 3)] = -0.2

	r := Identity(5).Retract(xi)
	checkProper(t, r, 1e-10)

	// retract along -xi walks back
	neg := make([]float64, len(xi))
	for k := range xi {
		neg[k] = -xi[k]
	}
	back := r.Retract(neg)
	for i := range 5 {
		for j := range 5 {
			want := 0.
			if i == j {
				want = 1.
			}
			assert.InDelta(t, want, back.At(i, j), 1e-10)
		}
	}
}

func TestRandom(t *testing.T) {
	for _, n := range []int{3, 4, 5, 7} {
		r := Random(n, rand.NewPCG(42, uint64(n)))
		require.Equal(t, n, r.N())
		checkProper(t, r, 1e-9)
	}
}

func TestRandomDeterminism(t *testing.T) {
	a := Random(4, rand.NewPCG(11, 3))
	b := Random(4, rand.NewPCG(11, 3))
	assert.True(t, mat.Equal(a.Matrix(), b.Matrix()))

	c := Random(4, rand.NewPCG(11, 4))
	assert.False(t, mat.Equal(a.Matrix(), c.Matrix()))
}

func TestLift(t *testing.T) {
	r := FromAxisAngle([3]float64{1, 2, 3}, 0.7)
	lifted, err := r.Lift(6)
	require.NoError(t, err)
	require.Equal(t, 6, lifted.N())
	checkProper(t, lifted, 1e-12)

	for i := range 3 {
		for j := range 3 {
			assert.Equal(t, r.At(i, j), lifted.At(i, j))
		}
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, 1., lifted.At(i, i))
	}

	// p below the current dimension is rejected
	_, err = r.Lift(2)
	require.Error(t, err)

	// p equal to the current dimension is a copy
	same, err := r.Lift(3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(r.Matrix(), same.Matrix()))
}

func TestNearestRotation(t *testing.T) {
	r := FromAxisAngle([3]float64{0.3, -1, 0.5}, 1.1)

	// perturb all entries and project back
	p := mat.NewDense(3, 3, nil)
	for i := range 3 {
		for j := range 3 {
			p.Set(i, j, r.At(i, j)+0.01*float64((i+1)*(j+2)))
		}
	}
	proj, err := NearestRotation(p)
	require.NoError(t, err)
	checkProper(t, proj, 1e-9)
	for i := range 3 {
		for j := range 3 {
			assert.InDelta(t, r.At(i, j), proj.At(i, j), 0.3)
		}
	}

	// a reflection projects to a proper rotation
	proj, err = NearestRotation(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1}))
	require.NoError(t, err)
	checkProper(t, proj, 1e-9)

	// higher dimension
	r4 := Random(4, rand.NewPCG(5, 5))
	p4 := mat.NewDense(4, 4, nil)
	for i := range 4 {
		for j := range 4 {
			p4.Set(i, j, r4.At(i, j)+0.02*float64(i-j))
		}
	}
	proj4, err := NearestRotation(p4)
	require.NoError(t, err)
	checkProper(t, proj4, 1e-9)
}

func TestMulInverse(t *testing.T) {
	a := FromAxisAngle([3]float64{1, 0, 0}, 0.4)
	b := FromAxisAngle([3]float64{0, 1, 0}, -0.9)

	ab := a.Mul(b)
	checkProper(t, ab, 1e-12)

	// a^-1 * (a*b) == b
	got := a.Inverse().Mul(ab)
	for i := range 3 {
		for j := range 3 {
			assert.InDelta(t, b.At(i, j), got.At(i, j), 1e-12)
		}
	}
}
