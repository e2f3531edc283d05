/*
package shonan implements Shonan rotation averaging: given a graph of noisy
relative rotation measurements between unknown absolute orientations, it
recovers SO(3) estimates that are certified as globally optimal whenever the
certificate holds.

The nonconvex averaging problem is lifted onto SO(p) for increasing p (the
Riemannian staircase). At each level the lifted cost is minimized with a
smooth optimizer, and a spectral test on the certificate matrix decides
whether the solution is a global optimum of the semidefinite relaxation; if
it is, the lifted solution is rounded back to SO(3) through a rank-3
singular value decomposition.

Usage:

Collect the relative measurements, construct an Averaging instance, and run
the staircase between two lifting levels:

	measurements := []shonan.Measurement{
		shonan.NewMeasurement(0, 1, r01),
		shonan.NewMeasurement(1, 2, r12),
		shonan.NewMeasurement(2, 0, r20),
	}

	sa, err := shonan.New(measurements, shonan.DefaultParameters())
	if err != nil {
		log.Fatalf("invalid measurement set: %v", err)
	}

	values, minEig, err := sa.Run(3, 10, false)
	if err != nil {
		log.Fatalf("averaging failed: %v", err)
	}

	fmt.Printf("certified: %v\n", minEig > -1e-4)

Reference:

F. Dellaert, D. M. Rosen, J. Wu, R. Mahony, L. Carlone, "Shonan Rotation
Averaging: Global Optimality by Surfing SO(p)^n," ECCV 2020.

D. M. Rosen, L. Carlone, A. S. Bandeira, J. J. Leonard, "SE-Sync: A
Certifiably Correct Algorithm for Synchronization over the Special
Euclidean Group," Intl. J. of Robotics Research, vol. 38, no. 2-3, 2019.
*/
package shonan

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"github.com/rs/zerolog"

	"github.com/satoshi-pes/rotavg/son"
)

// baseDim is the dimension of the estimated rotations. Measurements and
// final estimates are SO(3) values; only intermediate lifted values vary
// in dimension.
const baseDim = 3

// Input errors reported by New.
var (
	ErrEmptyGraph     = errors.New("shonan: no measurements")
	ErrBadMeasurement = errors.New("shonan: malformed measurement")
)

// Key identifies one unknown pose in the measurement graph.
type Key uint64

// Values maps pose keys to rotation estimates. All values share one
// dimension: SO(3) for final results, SO(p) inside the staircase.
type Values map[Key]son.SOn

// Copy returns a shallow copy. Rotation values are immutable, so sharing
// them is safe.
func (v Values) Copy() Values {
	out := make(Values, len(v))
	for k, r := range v {
		out[k] = r
	}
	return out
}

// Measurement is one noisy relative rotation between two poses: Rotation
// takes the frame of Key1 to the frame of Key2, so that a perfect
// measurement satisfies X2 = X1 * Rotation. Weight is the information
// scalar (inverse variance) of the measurement.
type Measurement struct {
	Key1     Key
	Key2     Key
	Rotation son.SOn
	Weight   float64
}

// NewMeasurement returns a unit-weight measurement.
func NewMeasurement(k1, k2 Key, r son.SOn) Measurement {
	return Measurement{Key1: k1, Key2: k2, Rotation: r, Weight: 1.}
}

// Averaging holds a measurement graph with its assembled matrices. The
// graph and the matrices are fixed at construction; all operations are
// read-only with respect to the receiver and may be called concurrently.
type Averaging struct {
	measurements []Measurement
	keys         []Key       // block order, first appearance wins
	index        map[Key]int // key -> block
	params       Parameters
	log          zerolog.Logger

	d *sparse.CSR // degree matrix
	q *sparse.CSR // measurement matrix
	l *sparse.CSR // connection Laplacian L = D - Q
}

// New validates the measurement set and assembles the degree matrix, the
// measurement matrix and the connection Laplacian.
func New(measurements []Measurement, params Parameters) (*Averaging, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(measurements) == 0 {
		return nil, ErrEmptyGraph
	}

	a := &Averaging{
		measurements: make([]Measurement, len(measurements)),
		index:        make(map[Key]int),
		params:       params,
		log:          params.logger(),
	}
	copy(a.measurements, measurements)

	for i, m := range a.measurements {
		if m.Key1 == m.Key2 {
			return nil, fmt.Errorf("%w: measurement %d connects key %d to itself", ErrBadMeasurement, i, m.Key1)
		}
		if m.Rotation.N() != baseDim {
			return nil, fmt.Errorf("%w: measurement %d: rotation must be 3x3, got %dx%d",
				ErrBadMeasurement, i, m.Rotation.N(), m.Rotation.N())
		}
		if m.Weight < 0 || math.IsNaN(m.Weight) || math.IsInf(m.Weight, 0) {
			return nil, fmt.Errorf("%w: measurement %d: weight %v", ErrBadMeasurement, i, m.Weight)
		}
		a.addKey(m.Key1)
		a.addKey(m.Key2)
	}

	a.buildMatrices()
	a.log.Debug().
		Int("poses", a.NumPoses()).
		Int("measurements", a.NumMeasurements()).
		Msg("assembled measurement graph")
	return a, nil
}

func (a *Averaging) addKey(k Key) {
	if _, ok := a.index[k]; !ok {
		a.index[k] = len(a.keys)
		a.keys = append(a.keys, k)
	}
}

// NumPoses returns the number of distinct pose keys.
func (a *Averaging) NumPoses() int {
	return len(a.keys)
}

// NumMeasurements returns the number of measurements.
func (a *Averaging) NumMeasurements() int {
	return len(a.measurements)
}

// Measured returns the relative rotation of measurement i.
func (a *Averaging) Measured(i int) son.SOn {
	return a.measurements[i].Rotation
}

// Keys returns the pose keys of measurement i.
func (a *Averaging) Keys(i int) (Key, Key) {
	m := a.measurements[i]
	return m.Key1, m.Key2
}

// PoseKeys returns all pose keys in block order.
func (a *Averaging) PoseKeys() []Key {
	out := make([]Key, len(a.keys))
	copy(out, a.keys)
	return out
}

// Parameters returns the configuration the instance was built with.
func (a *Averaging) Parameters() Parameters {
	return a.params
}

// SetLogger replaces the instance logger.
func (a *Averaging) SetLogger(l zerolog.Logger) {
	a.log = l
}

// checkValues verifies that values carry one rotation of dimension p for
// every pose key.
func (a *Averaging) checkValues(p int, values Values) error {
	for _, k := range a.keys {
		r, ok := values[k]
		if !ok {
			return fmt.Errorf("shonan: values missing key %d", k)
		}
		if r.N() != p {
			return fmt.Errorf("shonan: value for key %d is SO(%d), want SO(%d)", k, r.N(), p)
		}
	}
	return nil
}
