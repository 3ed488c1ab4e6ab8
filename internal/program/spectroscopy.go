// Package program describes the pulse sequences submitted to the execution
// service.
package program

import (
	"errors"
	"fmt"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/sweep"
)

// KindSpectroscopy identifies the multiplexed resonator spectroscopy sequence.
const KindSpectroscopy = "resonator_spectroscopy_multiplexed"

// Demod is one dual-demodulation term: weight1 on input1 plus weight2 on input2.
type Demod struct {
	Weight1 string `json:"weight1"`
	Input1  string `json:"input1"`
	Weight2 string `json:"weight2"`
	Input2  string `json:"input2"`
}

// Standard I and Q demodulation terms.
var (
	DemodI = Demod{hwconfig.WeightCos, hwconfig.Out1, hwconfig.WeightSin, hwconfig.Out2}
	DemodQ = Demod{hwconfig.WeightMinusSin, hwconfig.Out1, hwconfig.WeightCos, hwconfig.Out2}
)

// Channel is one resonator swept by the program.
type Channel struct {
	Element               string  `json:"element"`
	IntermediateFrequency float64 `json:"intermediate_frequency"`
	Operation             string  `json:"operation"`
	DemodI                Demod   `json:"demod_i"`
	DemodQ                Demod   `json:"demod_q"`
	StreamI               string  `json:"stream_i"`
	StreamQ               string  `json:"stream_q"`
}

// Spectroscopy sweeps every channel's frequency to offset+IF, waits the
// depletion time, measures, and averages I and Q over NAvg repetitions.
type Spectroscopy struct {
	Kind          string    `json:"kind"`
	NAvg          int       `json:"n_avg"`
	DepletionTime int       `json:"depletion_time"`
	Offsets       []int64   `json:"offsets"`
	Channels      []Channel `json:"channels"`
	// Sequential adds an align between channels instead of measuring them
	// in the same timeline.
	Sequential bool `json:"sequential"`
}

// ChannelParams is the per-resonator input to NewSpectroscopy.
type ChannelParams struct {
	Element   string
	Resonance float64
	LO        float64
}

// Params configures NewSpectroscopy.
type Params struct {
	NAvg          int
	DepletionTime int // ns
	Offsets       sweep.Table
	Channels      []ChannelParams
	Sequential    bool
}

// NewSpectroscopy assembles the spectroscopy program.
func NewSpectroscopy(p Params) (*Spectroscopy, error) {
	if p.NAvg <= 0 {
		return nil, fmt.Errorf("n_avg must be positive, got %d", p.NAvg)
	}
	if p.DepletionTime < 0 || p.DepletionTime%4 != 0 {
		return nil, fmt.Errorf("depletion time %d ns must be a non-negative multiple of 4", p.DepletionTime)
	}
	if p.Offsets.Len() == 0 {
		return nil, errors.New("empty sweep")
	}
	if len(p.Channels) == 0 {
		return nil, errors.New("no channels")
	}

	prog := &Spectroscopy{
		Kind:          KindSpectroscopy,
		NAvg:          p.NAvg,
		DepletionTime: p.DepletionTime,
		Offsets:       p.Offsets.Hz(),
		Sequential:    p.Sequential,
	}
	seen := make(map[string]bool)
	for k, ch := range p.Channels {
		if ch.Element == "" {
			return nil, fmt.Errorf("channel %d has no element", k)
		}
		if seen[ch.Element] {
			return nil, fmt.Errorf("element %s swept twice", ch.Element)
		}
		seen[ch.Element] = true

		prog.Channels = append(prog.Channels, Channel{
			Element:               ch.Element,
			IntermediateFrequency: sweep.IntermediateFrequency(ch.Resonance, ch.LO),
			Operation:             hwconfig.ReadoutOperation,
			DemodI:                DemodI,
			DemodQ:                DemodQ,
			StreamI:               fmt.Sprintf("I%d", k+1),
			StreamQ:               fmt.Sprintf("Q%d", k+1),
		})
	}
	return prog, nil
}

// StreamNames lists the result streams in channel order: I1, Q1, I2, Q2, ...
func (s *Spectroscopy) StreamNames() []string {
	names := make([]string, 0, 2*len(s.Channels))
	for _, ch := range s.Channels {
		names = append(names, ch.StreamI, ch.StreamQ)
	}
	return names
}

// Points is the sweep cardinality, the length of every result stream.
func (s *Spectroscopy) Points() int {
	return len(s.Offsets)
}

// Frequencies returns the IF each channel is set to at every sweep point.
func (s *Spectroscopy) Frequencies(channel int) []float64 {
	ch := s.Channels[channel]
	out := make([]float64, len(s.Offsets))
	for i, df := range s.Offsets {
		out[i] = float64(df) + ch.IntermediateFrequency
	}
	return out
}

// CheckConfig verifies every channel exists in cfg and can be measured.
func (s *Spectroscopy) CheckConfig(cfg *hwconfig.Config) error {
	for _, ch := range s.Channels {
		el, ok := cfg.Elements[ch.Element]
		if !ok {
			return fmt.Errorf("element %s not in configuration", ch.Element)
		}
		pulseName, ok := el.Operations[ch.Operation]
		if !ok {
			return fmt.Errorf("element %s has no %s operation", ch.Element, ch.Operation)
		}
		pulse := cfg.Pulses[pulseName]
		for _, d := range []Demod{ch.DemodI, ch.DemodQ} {
			for _, w := range []string{d.Weight1, d.Weight2} {
				if _, ok := pulse.IntegrationWeights[w]; !ok {
					return fmt.Errorf("pulse %s has no %s integration weight", pulseName, w)
				}
			}
			for _, in := range []string{d.Input1, d.Input2} {
				if _, ok := el.Outputs[in]; !ok {
					return fmt.Errorf("element %s has no output %s", ch.Element, in)
				}
			}
		}
	}
	return nil
}
