/*
package son provides rotation matrices of arbitrary dimension, SO(n), as
manifold values for optimization: tangent-space parameterization (hat/vee),
retraction by the exponential map, closed-form logarithm on SO(3), uniform
random sampling, and embedding of a rotation into a higher dimension.

Usage:

Values are created by the constructors and never mutated; every operation
returns a fresh value. A tangent vector is a plain []float64 of length
Dim(n) = n(n-1)/2, ordered by the lexicographic enumeration of the strict
upper triangle (see PairIndex).

Example:

	r := son.FromAxisAngle([3]float64{0, 0, 1}, math.Pi/4)
	s := r.Retract([]float64{0.1, 0, 0})

	xi, err := r.LocalCoordinates(s)
	if err != nil {
		log.Fatalf("failed to compute local coordinates: %v", err)
	}

	fmt.Printf("xi=%v\n", xi)

Reference:

F. Mezzadri, "How to Generate Random Matrices from the Classical Compact
Groups," Notices of the AMS, vol. 54, no. 5, pp. 592-604, 2007.
*/
package son

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// orthTol bounds |R'R - I| entries accepted by FromMatrix.
const orthTol = 1e-9

// SOn is an n x n proper rotation matrix (orthogonal, determinant +1).
// The zero value is invalid; use the constructors.
type SOn struct {
	m *mat.Dense
}

// Dim returns the dimension of the tangent space of SO(n), n(n-1)/2.
func Dim(n int) int {
	return n * (n - 1) / 2
}

// PairIndex returns the tangent coordinate index of the strict upper
// triangle entry (i, j), i < j, under lexicographic enumeration:
// (0,1) (0,2) ... (0,n-1) (1,2) ...
func PairIndex(n, i, j int) int {
	if i < 0 || j <= i || j >= n {
		panic("son: pair index out of range")
	}
	return i*n - i*(i+3)/2 + j - 1
}

// Identity returns the identity rotation of dimension n.
func Identity(n int) SOn {
	if n < 1 {
		panic("son: dimension must be positive")
	}
	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1.)
	}
	return SOn{m: m}
}

// FromMatrix validates that m is a proper rotation and wraps it.
func FromMatrix(m mat.Matrix) (SOn, error) {
	r, c := m.Dims()
	if r != c {
		return SOn{}, fmt.Errorf("son: matrix is %dx%d, want square", r, c)
	}
	d := mat.DenseCopyOf(m)

	// R'R must be the identity within tolerance
	var g mat.Dense
	g.Mul(d.T(), d)
	for i := range r {
		for j := range r {
			want := 0.
			if i == j {
				want = 1.
			}
			if math.Abs(g.At(i, j)-want) > orthTol {
				return SOn{}, fmt.Errorf("son: matrix is not orthogonal")
			}
		}
	}
	if mat.Det(d) < 0 {
		return SOn{}, fmt.Errorf("son: matrix is a reflection, determinant < 0")
	}
	return SOn{m: d}, nil
}

// FromAxisAngle returns the 3x3 rotation about the given axis by angle
// (radians). The axis need not be normalized.
func FromAxisAngle(axis [3]float64, angle float64) SOn {
	norm := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if norm == 0 {
		panic("son: zero rotation axis")
	}
	// tangent coordinates of the standard axis-angle vector
	w := [3]float64{axis[0] / norm * angle, axis[1] / norm * angle, axis[2] / norm * angle}
	return Identity(3).Retract(stdToBasis(w))
}

// Random returns a rotation drawn from the Haar measure on SO(n):
// QR of a Gaussian matrix with the R-sign correction (Mezzadri, 2007),
// then a column flip if the determinant is negative.
// A nil src uses the global random source.
func Random(n int, src rand.Source) SOn {
	if n < 1 {
		panic("son: dimension must be positive")
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	g := mat.NewDense(n, n, nil)
	for i := range n {
		for j := range n {
			g.Set(i, j, norm.Rand())
		}
	}

	var qr mat.QR
	qr.Factorize(g)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// multiply columns of Q by the signs of diag(R) for Haar uniformity
	out := mat.NewDense(n, n, nil)
	for j := range n {
		s := 1.
		if r.At(j, j) < 0 {
			s = -1.
		}
		for i := range n {
			out.Set(i, j, s*q.At(i, j))
		}
	}

	// restrict O(n) to SO(n)
	if mat.Det(out) < 0 {
		for i := range n {
			out.Set(i, n-1, -out.At(i, n-1))
		}
	}
	return SOn{m: out}
}

// NearestRotation projects an arbitrary square matrix onto SO(n) in the
// Frobenius sense: R = U diag(1, ..., 1, det(UV')) V' from the SVD of m.
func NearestRotation(m mat.Matrix) (SOn, error) {
	r, c := m.Dims()
	if r != c {
		return SOn{}, fmt.Errorf("son: matrix is %dx%d, want square", r, c)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return SOn{}, fmt.Errorf("son: SVD of %dx%d matrix failed", r, c)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uv mat.Dense
	uv.Mul(&u, v.T())
	if mat.Det(&uv) < 0 {
		// flip the direction of least variance
		for i := range r {
			u.Set(i, c-1, -u.At(i, c-1))
		}
		uv.Mul(&u, v.T())
	}
	return SOn{m: &uv}, nil
}

// N returns the matrix dimension n.
func (r SOn) N() int {
	if r.m == nil {
		return 0
	}
	n, _ := r.m.Dims()
	return n
}

// Dim returns the tangent space dimension n(n-1)/2.
func (r SOn) Dim() int {
	return Dim(r.N())
}

// Matrix returns the underlying matrix. Callers must treat it as read-only.
func (r SOn) Matrix() *mat.Dense {
	return r.m
}

// At returns the matrix entry (i, j).
func (r SOn) At(i, j int) float64 {
	return r.m.At(i, j)
}

// Mul returns the composition r*o.
func (r SOn) Mul(o SOn) SOn {
	var out mat.Dense
	out.Mul(r.m, o.m)
	return SOn{m: &out}
}

// Inverse returns the inverse rotation, the transpose.
func (r SOn) Inverse() SOn {
	n := r.N()
	out := mat.NewDense(n, n, nil)
	out.Copy(r.m.T())
	return SOn{m: out}
}

// Retract walks from r along the tangent vector xi and returns
// r * expm(hat(xi)). SO(3) uses the closed-form Rodrigues exponential,
// higher dimensions the dense matrix exponential.
func (r SOn) Retract(xi []float64) SOn {
	n := r.N()
	if len(xi) != Dim(n) {
		panic(fmt.Sprintf("son: tangent vector has length %d, want %d", len(xi), Dim(n)))
	}
	var e *mat.Dense
	if n == 3 {
		e = expSO3(xi)
	} else {
		var d mat.Dense
		d.Exp(Hat(n, xi))
		e = &d
	}
	var out mat.Dense
	out.Mul(r.m, e)
	return SOn{m: &out}
}

// LocalCoordinates returns the tangent vector xi with r.Retract(xi) == o.
// The closed-form logarithm exists here only for n == 3; higher dimensions
// return an error.
func (r SOn) LocalCoordinates(o SOn) ([]float64, error) {
	n := r.N()
	if o.N() != n {
		panic("son: dimension mismatch")
	}
	if n != 3 {
		return nil, fmt.Errorf("son: logarithm only implemented for SO(3), got n=%d", n)
	}
	var rel mat.Dense
	rel.Mul(r.m.T(), o.m)
	return logSO3(&rel), nil
}

// Angle returns the rotation angle in [0, pi]. Panics unless n == 3.
func (r SOn) Angle() float64 {
	if r.N() != 3 {
		panic("son: Angle requires a 3x3 rotation")
	}
	return math.Acos(clamp1((mat.Trace(r.m) - 1.) / 2.))
}

// Lift embeds r into SO(p), p >= n, as the top-left block of the identity.
func (r SOn) Lift(p int) (SOn, error) {
	n := r.N()
	if p < n {
		return SOn{}, fmt.Errorf("son: cannot lift SO(%d) value to SO(%d)", n, p)
	}
	out := mat.NewDense(p, p, nil)
	for i := range p {
		out.Set(i, i, 1.)
	}
	for i := range n {
		for j := range n {
			out.Set(i, j, r.m.At(i, j))
		}
	}
	return SOn{m: out}, nil
}

// Hat maps a tangent vector to its skew-symmetric matrix. For the pair
// (i, j), i < j, with coordinate index k = PairIndex(n, i, j), the entries
// are hat[i][j] = -xi[k] and hat[j][i] = +xi[k].
func Hat(n int, xi []float64) *mat.Dense {
	if len(xi) != Dim(n) {
		panic(fmt.Sprintf("son: tangent vector has length %d, want %d", len(xi), Dim(n)))
	}
	m := mat.NewDense(n, n, nil)
	k := 0
	for i := range n {
		for j := i + 1; j < n; j++ {
			m.Set(i, j, -xi[k])
			m.Set(j, i, xi[k])
			k++
		}
	}
	return m
}

// Vee is the inverse of Hat. It reads the strict lower triangle and assumes
// the input is skew-symmetric.
func Vee(m mat.Matrix) []float64 {
	n, c := m.Dims()
	if n != c {
		panic("son: Vee requires a square matrix")
	}
	xi := make([]float64, Dim(n))
	k := 0
	for i := range n {
		for j := i + 1; j < n; j++ {
			xi[k] = m.At(j, i)
			k++
		}
	}
	return xi
}

// stdToBasis converts a standard axis-angle vector w = (wx, wy, wz),
// whose hat is [[0,-wz,wy],[wz,0,-wx],[-wy,wx,0]], into the lexicographic
// tangent coordinates used by this package.
func stdToBasis(w [3]float64) []float64 {
	return []float64{w[2], -w[1], w[0]}
}

// expSO3 returns the Rodrigues exponential of hat(xi).
func expSO3(xi []float64) *mat.Dense {
	theta2 := xi[0]*xi[0] + xi[1]*xi[1] + xi[2]*xi[2]
	theta := math.Sqrt(theta2)

	// sin(t)/t and (1-cos(t))/t^2, with series below the roundoff knee
	var a, b float64
	if theta < 1e-4 {
		a = 1. - theta2/6.
		b = 0.5 - theta2/24.
	} else {
		a = math.Sin(theta) / theta
		b = (1. - math.Cos(theta)) / theta2
	}

	w := Hat(3, xi)
	var w2 mat.Dense
	w2.Mul(w, w)

	out := mat.NewDense(3, 3, nil)
	for i := range 3 {
		for j := range 3 {
			v := a*w.At(i, j) + b*w2.At(i, j)
			if i == j {
				v += 1.
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// logSO3 returns the tangent coordinates of the rotation logarithm.
func logSO3(r *mat.Dense) []float64 {
	cos := clamp1((mat.Trace(r) - 1.) / 2.)
	theta := math.Acos(cos)

	switch {
	case theta < 1e-10:
		// first order: log(R) ~ (R - R')/2
		return []float64{
			(r.At(1, 0) - r.At(0, 1)) / 2.,
			(r.At(2, 0) - r.At(0, 2)) / 2.,
			(r.At(2, 1) - r.At(1, 2)) / 2.,
		}
	case math.Pi-theta < 1e-6:
		// near pi the skew part degenerates; recover the axis from
		// R = 2uu' - I using the largest diagonal entry
		u := [3]float64{}
		k0 := 0
		for k := 1; k < 3; k++ {
			if r.At(k, k) > r.At(k0, k0) {
				k0 = k
			}
		}
		u[k0] = math.Sqrt(math.Max((r.At(k0, k0)+1.)/2., 0.))
		for k := range 3 {
			if k != k0 {
				u[k] = (r.At(k, k0) + r.At(k0, k)) / (4. * u[k0])
			}
		}
		return stdToBasis([3]float64{theta * u[0], theta * u[1], theta * u[2]})
	default:
		f := theta / (2. * math.Sin(theta))
		return []float64{
			f * (r.At(1, 0) - r.At(0, 1)),
			f * (r.At(2, 0) - r.At(0, 2)),
			f * (r.At(2, 1) - r.At(1, 2)),
		}
	}
}

func clamp1(x float64) float64 {
	if x > 1. {
		return 1.
	}
	if x < -1. {
		return -1.
	}
	return x
}
