package shonan

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

// det3 is the determinant of the 3x3 block of m starting at column off.
func det3(m *mat.Dense, off int) float64 {
	a, b, c := m.At(0, off), m.At(0, off+1), m.At(0, off+2)
	d, e, f := m.At(1, off), m.At(1, off+1), m.At(1, off+2)
	g, h, i := m.At(2, off), m.At(2, off+1), m.At(2, off+2)
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

// RoundStiefel projects a p x 3N Stiefel stack to SO(3) values. The
// rank-3 truncated SVD supplies the best rank-3 factor, a majority vote
// over block determinants fixes the sign the SVD leaves free, and each
// block is then snapped to its nearest rotation.
func (a *Averaging) RoundStiefel(s *mat.Dense) (Values, error) {
	p, cols := s.Dims()
	n := a.blockDim()
	if cols != n {
		return nil, fmt.Errorf("shonan: stiefel matrix has %d columns, want %d", cols, n)
	}
	if p < baseDim {
		return nil, fmt.Errorf("shonan: stiefel matrix has %d rows, want at least %d", p, baseDim)
	}

	var svd mat.SVD
	if ok := svd.Factorize(s, mat.SVDThin); !ok {
		return nil, fmt.Errorf("shonan: stiefel SVD did not converge")
	}
	sigma := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	// R = diag(sigma[:3]) * V[:, :3]', 3 x 3N
	r := mat.NewDense(baseDim, n, nil)
	for i := range baseDim {
		for j := range n {
			r.Set(i, j, sigma[i]*v.At(j, i))
		}
	}

	negative := 0
	for i := range a.NumPoses() {
		if det3(r, baseDim*i) < 0. {
			negative++
		}
	}
	if 2*negative > a.NumPoses() {
		r.Scale(-1., r)
	}

	out := make(Values, a.NumPoses())
	for i, k := range a.keys {
		block := mat.NewDense(baseDim, baseDim, nil)
		for br := range baseDim {
			for bc := range baseDim {
				block.Set(br, bc, r.At(br, baseDim*i+bc))
			}
		}
		rot, err := son.NearestRotation(block)
		if err != nil {
			return nil, fmt.Errorf("shonan: rounding pose %d: %w", k, err)
		}
		out[k] = rot
	}
	return out, nil
}

// RoundSolution rounds a lifted value set to SO(3).
func (a *Averaging) RoundSolution(values Values) (Values, error) {
	s, err := a.StiefelElementMatrix(values)
	if err != nil {
		return nil, err
	}
	return a.RoundStiefel(s)
}

// ProjectFrom maps SO(p) values to SO(3) pose by pose, snapping the
// upper left block of each rotation to its nearest rotation. For values
// lifted from SO(3) this recovers the original rotations exactly.
func (a *Averaging) ProjectFrom(p int, values Values) (Values, error) {
	ordered, err := a.orderedValues(p, values)
	if err != nil {
		return nil, err
	}

	out := make(Values, len(ordered))
	for i, x := range ordered {
		block := mat.NewDense(baseDim, baseDim, nil)
		for r := range baseDim {
			for c := range baseDim {
				block.Set(r, c, x.At(r, c))
			}
		}
		rot, err := son.NearestRotation(block)
		if err != nil {
			return nil, fmt.Errorf("shonan: projecting pose %d: %w", a.keys[i], err)
		}
		out[a.keys[i]] = rot
	}
	return out, nil
}
