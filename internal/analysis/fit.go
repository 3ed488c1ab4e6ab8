package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const minFitPoints = 5

// ReflectionFit describes a single reflection resonance:
//
//	y = Offset + Slope*(x-Frequency) - Amplitude / (1 + 4((x-Frequency)/Linewidth)²)
//
// Frequency and Linewidth share the unit of the x axis handed to the fit.
type ReflectionFit struct {
	Frequency float64 `json:"f"`
	Linewidth float64 `json:"k"`
	Amplitude float64 `json:"amplitude"`
	Offset    float64 `json:"offset"`
	Slope     float64 `json:"slope"`
	RSquared  float64 `json:"r_squared"`
}

// Eval returns the model at x.
func (r *ReflectionFit) Eval(x float64) float64 {
	return reflection(x, r.Frequency, r.Linewidth, r.Amplitude, r.Offset, r.Slope)
}

// Curve evaluates the model on every x.
func (r *ReflectionFit) Curve(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = r.Eval(v)
	}
	return out
}

func reflection(x, f, k, a, off, slope float64) float64 {
	d := (x - f) / k
	return off + slope*(x-f) - a/(1+4*d*d)
}

// FitReflection fits a reflection lineshape to a magnitude trace.
func FitReflection(x, y []float64) (*ReflectionFit, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("axis/trace length mismatch: %d != %d", len(x), len(y))
	}
	if len(x) < minFitPoints {
		return nil, fmt.Errorf("need at least %d points, got %d", minFitPoints, len(x))
	}
	if floats.HasNaN(x) || floats.HasNaN(y) || hasInf(x) || hasInf(y) {
		return nil, errors.New("trace contains non-finite values")
	}

	xMin, xMax := floats.Min(x), floats.Max(x)
	yMin, yMax := floats.Min(y), floats.Max(y)
	xSpan, ySpan := xMax-xMin, yMax-yMin
	if xSpan <= 0 || ySpan <= 0 {
		return nil, errors.New("flat axis or trace")
	}

	// fit in normalized units so the simplex starts with a sensible size
	xn := make([]float64, len(x))
	yn := make([]float64, len(y))
	for i := range x {
		xn[i] = (x[i] - xMin) / xSpan
		yn[i] = (y[i] - yMin) / ySpan
	}

	init := initialGuess(xn, yn)
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if p[1] == 0 {
				return math.Inf(1)
			}
			var ss float64
			for i := range xn {
				r := yn[i] - reflection(xn[i], p[0], p[1], p[2], p[3], p[4])
				ss += r * r
			}
			return ss
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 20000,
		FuncEvaluations: 50000,
	}

	result, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("optimizer failed: %w", err)
	}
	p := result.X
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("fit produced non-finite parameters")
		}
	}

	fit := &ReflectionFit{
		Frequency: xMin + p[0]*xSpan,
		Linewidth: math.Abs(p[1]) * xSpan,
		Amplitude: p[2] * ySpan,
		Offset:    yMin + p[3]*ySpan,
		Slope:     p[4] * ySpan / xSpan,
	}
	if fit.Linewidth == 0 {
		return nil, errors.New("fit collapsed to zero linewidth")
	}
	if fit.Amplitude <= 0 {
		return nil, errors.New("no resonance dip found")
	}
	if fit.Frequency < xMin || fit.Frequency > xMax {
		return nil, fmt.Errorf("fitted frequency %v outside swept span [%v, %v]", fit.Frequency, xMin, xMax)
	}

	model := fit.Curve(x)
	mean := stat.Mean(y, nil)
	var ssRes, ssTot float64
	for i := range y {
		ssRes += (y[i] - model[i]) * (y[i] - model[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	fit.RSquared = 1 - ssRes/ssTot

	return fit, nil
}

func initialGuess(x, y []float64) []float64 {
	n := len(x)
	minIdx := floats.MinIdx(y)

	edge := n / 10
	if edge < 1 {
		edge = 1
	}
	left := stat.Mean(y[:edge], nil)
	right := stat.Mean(y[n-edge:], nil)
	offset := (left + right) / 2
	slope := (right - left) / (x[n-1] - x[0])

	depth := offset - y[minIdx]
	if depth <= 0 {
		depth = 0.5
	}

	// full width at half depth
	half := offset - depth/2
	var below int
	for _, v := range y {
		if v < half {
			below++
		}
	}
	width := float64(below) * (x[n-1] - x[0]) / float64(n-1)
	if width <= 0 {
		width = 0.1
	}

	return []float64{x[minIdx], width, depth, offset, slope}
}

func hasInf(v []float64) bool {
	for _, x := range v {
		if math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

// FitOutcome is the result of an optional fit: either a fit or the reason it
// was not produced.
type FitOutcome struct {
	Fit    *ReflectionFit `json:"fit,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// OK reports whether the fit succeeded.
func (o FitOutcome) OK() bool {
	return o.Fit != nil
}

// BestEffortFit runs FitReflection and never fails: any error or panic is
// folded into the outcome's Reason.
func BestEffortFit(x, y []float64) (outcome FitOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = FitOutcome{Reason: fmt.Sprintf("fit panicked: %v", r)}
		}
	}()

	fit, err := FitReflection(x, y)
	if err != nil {
		return FitOutcome{Reason: err.Error()}
	}
	return FitOutcome{Fit: fit}
}
