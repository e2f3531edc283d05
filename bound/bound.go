/*
package bound provides scalar bounding constraints over rotation estimates.

A Constraint bounds a scalar capability function of one pose (Unary) or of a
pose pair (Binary) against a threshold, from above or below. Constraints do
not participate in the averaging solve; they screen a solution afterwards,
for example to flag poses that rotated further than a mount allows.

Active reports whether a constraint currently binds, with the boundary
counted as active so that solutions sitting exactly on a limit are not
reported as free. EvaluateError returns the signed violation (positive means
violated) and, on request, its derivative in the tangent basis of son.

Usage:

	constraints := []bound.Constraint{
		bound.MaxRotationAngle(2, math.Pi/4),
		bound.MaxRelativeAngle(0, 3, math.Pi/2),
	}

	violations, err := bound.Violations(constraints, values)
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range violations {
		fmt.Printf("constraint %d violated by %.3f rad\n", v.Index, v.Error)
	}
*/
package bound

import (
	"fmt"
	"math"

	"github.com/satoshi-pes/rotavg/shonan"
	"github.com/satoshi-pes/rotavg/son"
)

// DefaultMu is the penalty weight used when a constraint leaves Mu unset.
const DefaultMu = 1000.

// Kind tags the arity of a constraint.
type Kind int

const (
	// Unary bounds a scalar function of one pose.
	Unary Kind = iota
	// Binary bounds a scalar function of a pose pair.
	Binary
)

// Eval is the result of a scalar capability function. Deriv is filled
// only when the caller asked for it: length 3 for unary functions, 6 for
// binary ones (first the Key1 block, then the Key2 block), in the
// tangent basis of son.
type Eval struct {
	Value    float64
	Deriv    []float64
	HasDeriv bool
}

// ScalarFunc evaluates a scalar capability of one rotation.
type ScalarFunc func(x son.SOn, wantDeriv bool) Eval

// ScalarFunc2 evaluates a scalar capability of a rotation pair.
type ScalarFunc2 func(x, y son.SOn, wantDeriv bool) Eval

// Constraint bounds a scalar capability function against Threshold.
// GreaterThan selects the direction: true demands value >= Threshold,
// false demands value <= Threshold. Mu weights the quadratic penalty;
// zero selects DefaultMu.
type Constraint struct {
	Kind        Kind
	Key1        shonan.Key
	Key2        shonan.Key // unused for Unary
	Threshold   float64
	GreaterThan bool
	Mu          float64
	Value1      ScalarFunc
	Value2      ScalarFunc2
}

// MaxRotationAngle bounds the rotation angle of one pose from above.
func MaxRotationAngle(key shonan.Key, limit float64) Constraint {
	return Constraint{Kind: Unary, Key1: key, Threshold: limit, Value1: RotationAngle}
}

// MaxRelativeAngle bounds the relative rotation angle of a pose pair
// from above.
func MaxRelativeAngle(k1, k2 shonan.Key, limit float64) Constraint {
	return Constraint{Kind: Binary, Key1: k1, Key2: k2, Threshold: limit, Value2: RelativeAngle}
}

func (c Constraint) penaltyWeight() float64 {
	if c.Mu > 0 {
		return c.Mu
	}
	return DefaultMu
}

// eval dispatches to the capability function of the constraint.
func (c Constraint) eval(values shonan.Values, wantDeriv bool) (Eval, error) {
	switch c.Kind {
	case Unary:
		if c.Value1 == nil {
			return Eval{}, fmt.Errorf("bound: unary constraint without a scalar function")
		}
		x, ok := values[c.Key1]
		if !ok {
			return Eval{}, fmt.Errorf("bound: values missing key %d", c.Key1)
		}
		return c.Value1(x, wantDeriv), nil
	case Binary:
		if c.Value2 == nil {
			return Eval{}, fmt.Errorf("bound: binary constraint without a scalar function")
		}
		x, ok := values[c.Key1]
		if !ok {
			return Eval{}, fmt.Errorf("bound: values missing key %d", c.Key1)
		}
		y, ok := values[c.Key2]
		if !ok {
			return Eval{}, fmt.Errorf("bound: values missing key %d", c.Key2)
		}
		return c.Value2(x, y, wantDeriv), nil
	}
	return Eval{}, fmt.Errorf("bound: unknown constraint kind %d", c.Kind)
}

// Active reports whether the constraint binds at values. The boundary
// counts as active: a value sitting exactly on the threshold keeps the
// constraint engaged, which avoids oscillation right at the limit.
func (c Constraint) Active(values shonan.Values) (bool, error) {
	ev, err := c.eval(values, false)
	if err != nil {
		return false, err
	}
	if c.GreaterThan {
		return ev.Value <= c.Threshold, nil
	}
	return ev.Value >= c.Threshold, nil
}

// EvaluateError returns the signed constraint error, positive when the
// bound is violated, together with its derivative when requested. The
// derivative carries the direction sign, so it always points toward
// increasing violation.
func (c Constraint) EvaluateError(values shonan.Values, wantDeriv bool) (Eval, error) {
	ev, err := c.eval(values, wantDeriv)
	if err != nil {
		return Eval{}, err
	}

	out := Eval{HasDeriv: ev.HasDeriv}
	if c.GreaterThan {
		out.Value = c.Threshold - ev.Value
		if ev.HasDeriv {
			out.Deriv = make([]float64, len(ev.Deriv))
			for i, v := range ev.Deriv {
				out.Deriv[i] = -v
			}
		}
		return out, nil
	}
	out.Value = ev.Value - c.Threshold
	if ev.HasDeriv {
		out.Deriv = append([]float64(nil), ev.Deriv...)
	}
	return out, nil
}

// Violation reports one violated constraint by its index in the screened
// slice and the amount by which it is exceeded.
type Violation struct {
	Index int
	Error float64
}

// Violations screens values against constraints and lists the violated
// ones in input order.
func Violations(constraints []Constraint, values shonan.Values) ([]Violation, error) {
	var out []Violation
	for i, c := range constraints {
		ev, err := c.EvaluateError(values, false)
		if err != nil {
			return nil, fmt.Errorf("bound: constraint %d: %w", i, err)
		}
		if ev.Value > 0 {
			out = append(out, Violation{Index: i, Error: ev.Value})
		}
	}
	return out, nil
}

// Penalty sums the weighted quadratic penalty 0.5*mu*error^2 of the
// violated constraints, a scalar diagnostic of how far a solution sits
// outside its bounds.
func Penalty(constraints []Constraint, values shonan.Values) (float64, error) {
	total := 0.
	for i, c := range constraints {
		ev, err := c.EvaluateError(values, false)
		if err != nil {
			return 0., fmt.Errorf("bound: constraint %d: %w", i, err)
		}
		if ev.Value > 0 {
			total += 0.5 * c.penaltyWeight() * ev.Value * ev.Value
		}
	}
	return total, nil
}

// tangent basis pairs of SO(3), the coordinate order of son.
var anglePairs = [3][2]int{{0, 1}, {0, 2}, {1, 2}}

// RotationAngle is the rotation angle of a pose in radians. The
// derivative is taken in the tangent basis at x; at the endpoints 0 and
// pi, where the angle is not differentiable, it is reported as zero.
func RotationAngle(x son.SOn, wantDeriv bool) Eval {
	theta := x.Angle()
	if !wantDeriv {
		return Eval{Value: theta}
	}

	d := make([]float64, 3)
	if s := 2. * math.Sin(theta); s > 1e-12 {
		for k, p := range anglePairs {
			d[k] = (x.At(p[1], p[0]) - x.At(p[0], p[1])) / s
		}
	}
	return Eval{Value: theta, Deriv: d, HasDeriv: true}
}

// RelativeAngle is the angle of the relative rotation x^T y in radians.
// The derivative stacks the x block before the y block; the two are
// opposite, since moving either pose changes the relative angle with
// the same magnitude.
func RelativeAngle(x, y son.SOn, wantDeriv bool) Eval {
	r := x.Inverse().Mul(y)
	theta := r.Angle()
	if !wantDeriv {
		return Eval{Value: theta}
	}

	d := make([]float64, 6)
	if s := 2. * math.Sin(theta); s > 1e-12 {
		for k, p := range anglePairs {
			g := (r.At(p[0], p[1]) - r.At(p[1], p[0])) / s
			d[k] = g
			d[3+k] = -g
		}
	}
	return Eval{Value: theta, Deriv: d, HasDeriv: true}
}
