// Package analysis turns averaged demodulation outputs into physical units
// and fits resonance lineshapes to them.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
)

// DefaultDemodFactor is the execution service's demodulation-to-volts
// constant. It is defined by the controller firmware, not derived here.
const DefaultDemodFactor = 4096.0

// Common frequency units.
const (
	Hz  = 1.0
	KHz = 1e3
	MHz = 1e6
	GHz = 1e9
)

// Scaler converts raw demodulated values into volts for a given readout
// pulse duration.
type Scaler struct {
	Factor      float64
	SingleDemod bool
}

// DefaultScaler matches the dual-demodulation convention of the controller.
var DefaultScaler = Scaler{Factor: DefaultDemodFactor}

// Scale returns the multiplier applied to raw values for durationNs.
func (s Scaler) Scale(durationNs float64) (float64, error) {
	if durationNs <= 0 || math.IsNaN(durationNs) || math.IsInf(durationNs, 0) {
		return 0, fmt.Errorf("invalid readout duration %v ns", durationNs)
	}
	k := s.Factor / durationNs
	if s.SingleDemod {
		k *= 2
	}
	return k, nil
}

// ToVolts combines I and Q into complex voltages.
func (s Scaler) ToVolts(i, q []float64, durationNs float64) ([]complex128, error) {
	if len(i) != len(q) {
		return nil, fmt.Errorf("I/Q length mismatch: %d != %d", len(i), len(q))
	}
	k, err := s.Scale(durationNs)
	if err != nil {
		return nil, err
	}

	out := make([]complex128, len(i))
	for n := range i {
		out[n] = complex(k*i[n], k*q[n])
	}
	return out, nil
}

// Magnitude returns |z| for every sample.
func Magnitude(z []complex128) []float64 {
	out := make([]float64, len(z))
	for n, v := range z {
		out[n] = cmplx.Abs(v)
	}
	return out
}

// Phase returns arg(z) in radians for every sample.
func Phase(z []complex128) []float64 {
	out := make([]float64, len(z))
	for n, v := range z {
		out[n] = cmplx.Phase(v)
	}
	return out
}

// AbsoluteAxis returns (resonance+offset)/unit for every offset.
func AbsoluteAxis(resonance float64, offsets []float64, unit float64) []float64 {
	out := make([]float64, len(offsets))
	for n, df := range offsets {
		out[n] = (resonance + df) / unit
	}
	return out
}
