// Package hwconfig describes the controller configuration handed to the
// execution service: analog and digital channels, logical elements, pulses,
// waveforms, integration weights and mixer corrections. Field names and
// nesting follow the service's configuration schema.
package hwconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Version of the configuration schema.
const Version = 1

// Config is the root configuration mapping.
type Config struct {
	Version            int                          `json:"version"`
	Controllers        map[string]Controller        `json:"controllers"`
	Elements           map[string]Element           `json:"elements"`
	Pulses             map[string]Pulse             `json:"pulses"`
	Waveforms          map[string]Waveform          `json:"waveforms"`
	DigitalWaveforms   map[string]DigitalWaveform   `json:"digital_waveforms"`
	IntegrationWeights map[string]IntegrationWeight `json:"integration_weights"`
	Mixers             map[string][]MixerEntry      `json:"mixers"`
}

// Controller lists the ports of one controller.
type Controller struct {
	Type           string              `json:"type"`
	AnalogOutputs  map[int]AnalogPort  `json:"analog_outputs"`
	DigitalOutputs map[int]DigitalPort `json:"digital_outputs"`
	AnalogInputs   map[int]AnalogPort  `json:"analog_inputs"`
}

// AnalogPort carries a DC offset.
type AnalogPort struct {
	Offset float64 `json:"offset"`
}

// DigitalPort has no settings.
type DigitalPort struct{}

// Port addresses a controller port. It marshals as ["con1", 3].
type Port struct {
	Controller string
	Number     int
}

// MarshalJSON encodes the port as a two-element array.
func (p Port) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Controller, p.Number})
}

// UnmarshalJSON decodes a two-element array.
func (p *Port) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("port must have 2 fields, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Controller); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Number)
}

// MixInputs connects an element to an IQ mixer.
type MixInputs struct {
	I           Port    `json:"I"`
	Q           Port    `json:"Q"`
	LOFrequency float64 `json:"lo_frequency"`
	Mixer       string  `json:"mixer"`
}

// Element is a logical channel (qubit drive or readout resonator).
type Element struct {
	MixInputs             *MixInputs        `json:"mixInputs,omitempty"`
	IntermediateFrequency float64           `json:"intermediate_frequency"`
	Operations            map[string]string `json:"operations"`
	Outputs               map[string]Port   `json:"outputs,omitempty"`
	TimeOfFlight          *int              `json:"time_of_flight,omitempty"`
	Smearing              *int              `json:"smearing,omitempty"`
}

// Pulse operation kinds.
const (
	OperationControl     = "control"
	OperationMeasurement = "measurement"
)

// Pulse references its waveforms and, for measurements, its weights.
type Pulse struct {
	Operation          string            `json:"operation"`
	Length             int               `json:"length"`
	Waveforms          map[string]string `json:"waveforms"`
	IntegrationWeights map[string]string `json:"integration_weights,omitempty"`
	DigitalMarker      string            `json:"digital_marker,omitempty"`
}

// Waveform types.
const (
	WaveformConstant  = "constant"
	WaveformArbitrary = "arbitrary"
)

// Waveform is either constant (Sample) or arbitrary (Samples).
type Waveform struct {
	Type    string    `json:"type"`
	Sample  *float64  `json:"sample,omitempty"`
	Samples []float64 `json:"samples,omitempty"`
}

// Constant returns a constant waveform.
func Constant(v float64) Waveform {
	return Waveform{Type: WaveformConstant, Sample: &v}
}

// Arbitrary returns a sampled waveform.
func Arbitrary(samples []float64) Waveform {
	return Waveform{Type: WaveformArbitrary, Samples: samples}
}

// DigitalWaveform is a list of (value, duration) pairs; duration 0 holds to
// the end of the pulse.
type DigitalWaveform struct {
	Samples [][2]int `json:"samples"`
}

// IntegrationWeight holds per-clock-cycle demodulation weights.
type IntegrationWeight struct {
	Cosine []float64 `json:"cosine"`
	Sine   []float64 `json:"sine"`
}

// MixerEntry is the correction for one (IF, LO) pair.
type MixerEntry struct {
	IntermediateFrequency float64   `json:"intermediate_frequency"`
	LOFrequency           float64   `json:"lo_frequency"`
	Correction            []float64 `json:"correction"`
}

// ElementNames returns the element names in sorted order.
func (c *Config) ElementNames() []string {
	names := make([]string, 0, len(c.Elements))
	for name := range c.Elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every reference in the mapping resolves.
func (c *Config) Validate() error {
	for _, name := range c.ElementNames() {
		el := c.Elements[name]

		if el.MixInputs != nil {
			entries, ok := c.Mixers[el.MixInputs.Mixer]
			if !ok {
				return fmt.Errorf("element %s: unknown mixer %q", name, el.MixInputs.Mixer)
			}
			if !hasEntry(entries, el.IntermediateFrequency, el.MixInputs.LOFrequency) {
				return fmt.Errorf("element %s: mixer %s has no entry for IF %v / LO %v",
					name, el.MixInputs.Mixer, el.IntermediateFrequency, el.MixInputs.LOFrequency)
			}
			for _, p := range []Port{el.MixInputs.I, el.MixInputs.Q} {
				if err := c.checkPort(p, false); err != nil {
					return fmt.Errorf("element %s: %w", name, err)
				}
			}
		}
		for _, p := range el.Outputs {
			if err := c.checkPort(p, true); err != nil {
				return fmt.Errorf("element %s: %w", name, err)
			}
		}

		for op, pulseName := range el.Operations {
			pulse, ok := c.Pulses[pulseName]
			if !ok {
				return fmt.Errorf("element %s: operation %s references unknown pulse %q", name, op, pulseName)
			}
			if pulse.Operation == OperationMeasurement && len(el.Outputs) == 0 {
				return fmt.Errorf("element %s: measurement %s needs outputs", name, op)
			}
		}
	}

	for name, pulse := range c.Pulses {
		if pulse.Length <= 0 || pulse.Length%4 != 0 {
			return fmt.Errorf("pulse %s: length %d must be a positive multiple of 4", name, pulse.Length)
		}
		for _, wf := range pulse.Waveforms {
			w, ok := c.Waveforms[wf]
			if !ok {
				return fmt.Errorf("pulse %s: unknown waveform %q", name, wf)
			}
			if w.Type == WaveformArbitrary && len(w.Samples) != pulse.Length {
				return fmt.Errorf("pulse %s: waveform %s has %d samples, want %d", name, wf, len(w.Samples), pulse.Length)
			}
		}
		for _, iw := range pulse.IntegrationWeights {
			w, ok := c.IntegrationWeights[iw]
			if !ok {
				return fmt.Errorf("pulse %s: unknown integration weight %q", name, iw)
			}
			if len(w.Cosine) != pulse.Length/4 || len(w.Sine) != pulse.Length/4 {
				return fmt.Errorf("pulse %s: integration weight %s does not span the pulse", name, iw)
			}
		}
		if pulse.DigitalMarker != "" {
			if _, ok := c.DigitalWaveforms[pulse.DigitalMarker]; !ok {
				return fmt.Errorf("pulse %s: unknown digital marker %q", name, pulse.DigitalMarker)
			}
		}
	}

	for name, w := range c.Waveforms {
		if w.Type == WaveformConstant && w.Sample == nil {
			return fmt.Errorf("waveform %s: constant without sample", name)
		}
	}
	return nil
}

func (c *Config) checkPort(p Port, input bool) error {
	ctrl, ok := c.Controllers[p.Controller]
	if !ok {
		return fmt.Errorf("unknown controller %q", p.Controller)
	}
	ports := ctrl.AnalogOutputs
	if input {
		ports = ctrl.AnalogInputs
	}
	if _, ok := ports[p.Number]; !ok {
		return fmt.Errorf("controller %s has no analog port %d", p.Controller, p.Number)
	}
	return nil
}

func hasEntry(entries []MixerEntry, ifFreq, lo float64) bool {
	for _, e := range entries {
		if math.Abs(e.IntermediateFrequency-ifFreq) < 0.5 && math.Abs(e.LOFrequency-lo) < 0.5 {
			return true
		}
	}
	return false
}
