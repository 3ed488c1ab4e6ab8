// Package sweep builds the frequency offset tables shared by every channel of
// a spectroscopy run.
package sweep

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned for empty, reversed, non-finite or oversized
// ranges.
var ErrInvalidRange = errors.New("invalid sweep range")

// MaxPoints bounds the cardinality of a sweep table. Every point is one
// averaged measurement per channel, and the sequencer keeps the whole table
// in memory.
const MaxPoints = 100_000

// Table is a strictly increasing list of frequency offsets in Hz.
type Table []float64

// Arange returns the offsets start, start+step, ... below stop. The upper bound
// is exclusive and the cardinality is ceil((stop-start)/step).
func Arange(start, stop, step float64) (Table, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite bound", ErrInvalidRange)
		}
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %v must be positive", ErrInvalidRange, step)
	}
	if stop <= start {
		return nil, fmt.Errorf("%w: stop %v not above start %v", ErrInvalidRange, stop, start)
	}

	count := math.Ceil((stop - start) / step)
	if math.IsInf(count, 0) || count > MaxPoints {
		return nil, fmt.Errorf("%w: %g points exceeds the limit of %d", ErrInvalidRange, count, MaxPoints)
	}
	t := make(Table, int(count))
	for i := range t {
		t[i] = start + float64(i)*step
	}
	return t, nil
}

// Len returns the number of sweep points.
func (t Table) Len() int { return len(t) }

// Span returns the first and last offsets.
func (t Table) Span() (lo, hi float64) {
	if len(t) == 0 {
		return 0, 0
	}
	return t[0], t[len(t)-1]
}

// Hz returns the offsets rounded to whole hertz, the form the sequencer's
// integer frequency variable takes.
func (t Table) Hz() []int64 {
	out := make([]int64, len(t))
	for i, v := range t {
		out[i] = int64(math.Round(v))
	}
	return out
}

// IntermediateFrequency is the digital offset that places a channel on its
// resonance given the shared local oscillator.
func IntermediateFrequency(resonance, lo float64) float64 {
	return resonance - lo
}

// IntermediateFrequencies maps every resonance against the same LO.
func IntermediateFrequencies(resonances []float64, lo float64) []float64 {
	out := make([]float64, len(resonances))
	for i, r := range resonances {
		out[i] = IntermediateFrequency(r, lo)
	}
	return out
}
