// Package state holds the persisted machine description: network address of
// the execution service, local oscillators, and the resonator and qubit
// estimates that calibration runs refine.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RMahshie/qubitcal/internal/analysis"
)

// ErrNoResonator is returned when an index or name does not match a resonator.
var ErrNoResonator = errors.New("no such resonator")

// Machine is the root of the state document.
type Machine struct {
	Network          Network          `json:"network"`
	LocalOscillators LocalOscillators `json:"local_oscillators"`
	Resonators       []Resonator      `json:"resonators"`
	Qubits           []Qubit          `json:"qubits"`
}

// Network locates the execution service.
type Network struct {
	QOPIP   string `json:"qop_ip"`
	QOPPort int    `json:"qop_port"`
}

// LocalOscillators groups the LO sources by use.
type LocalOscillators struct {
	Readout []LocalOscillator `json:"readout"`
	Qubits  []LocalOscillator `json:"qubits"`
}

// LocalOscillator is a fixed-frequency source shared by several elements.
type LocalOscillator struct {
	Freq  float64 `json:"freq"`
	Power float64 `json:"power"`
}

// Wiring maps an element's I and Q mixer inputs to controller outputs.
type Wiring struct {
	Controller string `json:"controller"`
	I          int    `json:"I"`
	Q          int    `json:"Q"`
}

// MixerImbalance is the measured gain and phase error of an IQ mixer.
type MixerImbalance struct {
	G   float64 `json:"g"`
	Phi float64 `json:"phi"`
}

// Resonator is a readout resonator channel.
type Resonator struct {
	Name               string         `json:"name"`
	FRes               float64        `json:"f_res"`
	FOpt               float64        `json:"f_opt"`
	ReadoutPulseLength int            `json:"readout_pulse_length"`
	ReadoutPulseAmp    float64        `json:"readout_pulse_amp"`
	TimeOfFlight       int            `json:"time_of_flight"`
	Smearing           int            `json:"smearing"`
	LO                 int            `json:"lo_index"`
	Wiring             Wiring         `json:"wiring"`
	Mixer              MixerImbalance `json:"mixer"`
}

// Qubit is a drive line.
type Qubit struct {
	Name            string         `json:"name"`
	F01             float64        `json:"f_01"`
	Anharmonicity   float64        `json:"anharmonicity"`
	PiLength        int            `json:"pi_length"`
	PiAmp           float64        `json:"pi_amp"`
	DragCoefficient float64        `json:"drag_coefficient"`
	LO              int            `json:"lo_index"`
	Wiring          Wiring         `json:"wiring"`
	Mixer           MixerImbalance `json:"mixer"`
}

// Snapshot returns a deep copy that a run can read without seeing later
// updates.
func (m *Machine) Snapshot() *Machine {
	s := *m
	s.LocalOscillators.Readout = append([]LocalOscillator(nil), m.LocalOscillators.Readout...)
	s.LocalOscillators.Qubits = append([]LocalOscillator(nil), m.LocalOscillators.Qubits...)
	s.Resonators = append([]Resonator(nil), m.Resonators...)
	s.Qubits = append([]Qubit(nil), m.Qubits...)
	return &s
}

// Validate checks the fields every builder relies on.
func (m *Machine) Validate() error {
	if len(m.Resonators) == 0 {
		return errors.New("state has no resonators")
	}
	seen := make(map[string]bool)
	for i, r := range m.Resonators {
		if r.Name == "" {
			return fmt.Errorf("resonator %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate element name %q", r.Name)
		}
		seen[r.Name] = true
		if r.ReadoutPulseLength <= 0 || r.ReadoutPulseLength%4 != 0 {
			return fmt.Errorf("resonator %s: readout_pulse_length %d must be a positive multiple of 4", r.Name, r.ReadoutPulseLength)
		}
		if r.LO < 0 || r.LO >= len(m.LocalOscillators.Readout) {
			return fmt.Errorf("resonator %s: readout LO %d not defined", r.Name, r.LO)
		}
	}
	for i, q := range m.Qubits {
		if q.Name == "" {
			return fmt.Errorf("qubit %d has no name", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate element name %q", q.Name)
		}
		seen[q.Name] = true
		if q.LO < 0 || q.LO >= len(m.LocalOscillators.Qubits) {
			return fmt.Errorf("qubit %s: drive LO %d not defined", q.Name, q.LO)
		}
	}
	return nil
}

// Resonator returns the resonator at index.
func (m *Machine) Resonator(index int) (*Resonator, error) {
	if index < 0 || index >= len(m.Resonators) {
		return nil, fmt.Errorf("%w: index %d", ErrNoResonator, index)
	}
	return &m.Resonators[index], nil
}

// ReadoutLO returns the LO frequency feeding resonator r.
func (m *Machine) ReadoutLO(r *Resonator) float64 {
	return m.LocalOscillators.Readout[r.LO].Freq
}

// ApplyFit records a successful fit as the resonator's new resonance and
// optimal readout frequency. The fit frequency is expressed in unit. A failed
// outcome leaves the state untouched. It reports whether the state changed.
func (m *Machine) ApplyFit(index int, outcome analysis.FitOutcome, unit float64) bool {
	if !outcome.OK() || index < 0 || index >= len(m.Resonators) {
		return false
	}
	r := &m.Resonators[index]
	r.FRes = outcome.Fit.Frequency * unit
	r.FOpt = r.FRes
	return true
}

// Decode parses a state document.
func Decode(data []byte) (*Machine, error) {
	var m Machine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	return &m, nil
}

// Encode renders the state document.
func Encode(m *Machine) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}
