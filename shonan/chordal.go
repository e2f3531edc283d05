package shonan

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// InitializeChordally solves the chordal relaxation of the averaging
// problem in closed form: dropping the orthogonality constraints leaves
// an eigenvalue problem, and the three eigenvectors of the connection
// Laplacian with the smallest eigenvalues span the stacked rotation
// blocks up to a common gauge. Rounding the 3x3 blocks back onto SO(3)
// gives an initial estimate for RunFrom or TryOptimizingAt; on
// cycle-consistent measurements it recovers the exact solution.
//
// The eigenvector basis carries the usual sign and reflection ambiguity.
// RoundStiefel resolves it with the determinant vote before projecting
// the blocks.
//
// The decomposition is dense, intended for initialization at the graph
// sizes this solver targets.
//
// Reference:
// D. Martinec and T. Pajdla, "Robust Rotation and Translation Estimation
// in Multiview Reconstruction," CVPR 2007, doi: 10.1109/CVPR.2007.383115.
func (a *Averaging) InitializeChordally() (Values, error) {
	n := a.blockDim()
	l := a.DenseL()
	sym := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, l.At(i, j))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("shonan: chordal eigendecomposition did not converge")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// eigenvalues come out ascending, so the first three columns span
	// the relaxed solution; lay them out as the 3 x 3N Stiefel stack
	s := mat.NewDense(baseDim, n, nil)
	for i := range n {
		for j := range baseDim {
			s.Set(j, i, vecs.At(i, j))
		}
	}
	return a.RoundStiefel(s)
}
