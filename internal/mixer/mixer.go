// Package mixer computes the correction matrix that compensates the gain and
// phase imbalance of an IQ mixer.
package mixer

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingularCorrection is returned when the gain/phase pair makes the
// correction matrix normalization vanish.
var ErrSingularCorrection = errors.New("singular IQ correction")

// singularTolerance bounds |(1-g²)(2cos²phi-1)| from below.
const singularTolerance = 1e-12

// Correction holds the 2x2 pre-distortion matrix in row-major order:
// [c_II, c_IQ, c_QI, c_QQ].
type Correction [4]float64

// Identity is the correction of an ideal mixer.
var Identity = Correction{1, 0, 0, 1}

// IQImbalance returns the correction matrix that compensates a mixer with gain
// imbalance g and phase imbalance phi (radians).
func IQImbalance(g, phi float64) (Correction, error) {
	if math.IsNaN(g) || math.IsInf(g, 0) || math.IsNaN(phi) || math.IsInf(phi, 0) {
		return Correction{}, fmt.Errorf("%w: non-finite input g=%v phi=%v", ErrSingularCorrection, g, phi)
	}

	c := math.Cos(phi)
	s := math.Sin(phi)
	den := (1 - g*g) * (2*c*c - 1)
	if math.Abs(den) < singularTolerance {
		return Correction{}, fmt.Errorf("%w: g=%v phi=%v", ErrSingularCorrection, g, phi)
	}
	n := 1 / den

	return Correction{
		n * (1 - g) * c,
		n * (1 + g) * s,
		n * (1 - g) * s,
		n * (1 + g) * c,
	}, nil
}

// MustIQImbalance is like IQImbalance but panics on a singular pair. Use it
// only for tables built from fixed constants.
func MustIQImbalance(g, phi float64) Correction {
	c, err := IQImbalance(g, phi)
	if err != nil {
		panic(err)
	}
	return c
}

// Determinant of the 2x2 matrix.
func (c Correction) Determinant() float64 {
	return c[0]*c[3] - c[1]*c[2]
}

// IsIdentity reports whether c equals the identity within tol.
func (c Correction) IsIdentity(tol float64) bool {
	for i, v := range Identity {
		if math.Abs(c[i]-v) > tol {
			return false
		}
	}
	return true
}

// Slice returns the coefficients as the list the configuration expects.
func (c Correction) Slice() []float64 {
	return []float64{c[0], c[1], c[2], c[3]}
}
