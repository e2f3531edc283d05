package shonan

import (
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// weight returns the information weight of a measurement, overridden by
// the isotropic NoiseSigma when configured.
func (a *Averaging) weight(m Measurement) float64 {
	if a.params.NoiseSigma > 0 {
		return 1. / (a.params.NoiseSigma * a.params.NoiseSigma)
	}
	return m.Weight
}

// blockDim is the side of the block matrices, three rows per pose.
func (a *Averaging) blockDim() int {
	return baseDim * a.NumPoses()
}

// addEntry accumulates v at (i, j), so parallel edges sum.
func addEntry(rows []map[int]float64, i, j int, v float64) {
	if rows[i] == nil {
		rows[i] = make(map[int]float64)
	}
	rows[i][j] += v
}

// assembleCSR converts row maps to CSR with columns sorted per row.
// The canonical layout keeps later traversals independent of map
// iteration order, which keeps every downstream float accumulation,
// and with it the whole solve, reproducible.
func assembleCSR(n int, rows []map[int]float64) *sparse.CSR {
	ia := make([]int, n+1)
	ja := make([]int, 0, n)
	data := make([]float64, 0, n)
	for i := range n {
		cols := make([]int, 0, len(rows[i]))
		for c := range rows[i] {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		for _, c := range cols {
			ja = append(ja, c)
			data = append(data, rows[i][c])
		}
		ia[i+1] = len(ja)
	}
	return sparse.NewCSR(n, n, ia, ja, data)
}

// buildMatrices assembles the block matrices of the measurement graph:
// the degree matrix D with w*I blocks on the diagonal, the connection
// matrix Q with w*M at block (i, j) and w*M' at (j, i), and the
// connection Laplacian L = D - Q whose quadratic form is the objective.
func (a *Averaging) buildMatrices() {
	n := a.blockDim()
	dRows := make([]map[int]float64, n)
	qRows := make([]map[int]float64, n)
	lRows := make([]map[int]float64, n)

	for _, m := range a.measurements {
		w := a.weight(m)
		bi := baseDim * a.index[m.Key1]
		bj := baseDim * a.index[m.Key2]

		for r := range baseDim {
			addEntry(dRows, bi+r, bi+r, w)
			addEntry(dRows, bj+r, bj+r, w)
			addEntry(lRows, bi+r, bi+r, w)
			addEntry(lRows, bj+r, bj+r, w)
			for c := range baseDim {
				v := w * m.Rotation.At(r, c)
				addEntry(qRows, bi+r, bj+c, v)
				addEntry(qRows, bj+c, bi+r, v)
				addEntry(lRows, bi+r, bj+c, -v)
				addEntry(lRows, bj+c, bi+r, -v)
			}
		}
	}

	a.d = assembleCSR(n, dRows)
	a.q = assembleCSR(n, qRows)
	a.l = assembleCSR(n, lRows)
}

// D returns the block degree matrix. Callers must not modify it.
func (a *Averaging) D() *sparse.CSR { return a.d }

// Q returns the block connection matrix. Callers must not modify it.
func (a *Averaging) Q() *sparse.CSR { return a.q }

// L returns the connection Laplacian D - Q. Callers must not modify
// it.
func (a *Averaging) L() *sparse.CSR { return a.l }

// DenseD returns a dense copy of the block degree matrix.
func (a *Averaging) DenseD() *mat.Dense { return a.d.ToDense() }

// DenseQ returns a dense copy of the block connection matrix.
func (a *Averaging) DenseQ() *mat.Dense { return a.q.ToDense() }

// DenseL returns a dense copy of the connection Laplacian.
func (a *Averaging) DenseL() *mat.Dense { return a.l.ToDense() }
