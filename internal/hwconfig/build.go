package hwconfig

import (
	"fmt"
	"math"
	"sort"

	"github.com/RMahshie/qubitcal/internal/mixer"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/internal/sweep"
)

// ControllerType is the controller model every port belongs to.
const ControllerType = "opx1"

// Names shared by every readout element.
const (
	ReadoutOperation = "readout"
	DigitalOn        = "ON"
	ZeroWaveform     = "zero_wf"

	// Integration weight keys used by dual demodulation.
	WeightCos      = "cos"
	WeightSin      = "sin"
	WeightMinusSin = "minus_sin"

	// Analog input names on readout elements.
	Out1 = "out1"
	Out2 = "out2"
)

// Single-qubit gate operations built for every drive element.
var gateOperations = []struct {
	name  string
	scale float64
	axis  float64 // rotation of the drive phase, radians
}{
	{"X", 1, 0},
	{"X/2", 0.5, 0},
	{"-X/2", -0.5, 0},
	{"Y", 1, math.Pi / 2},
	{"Y/2", 0.5, math.Pi / 2},
	{"-Y/2", -0.5, math.Pi / 2},
}

// Build derives the controller configuration from the machine state. Element
// intermediate frequencies are resonance minus LO; mixer corrections come from
// each element's measured imbalance.
func Build(m *state.Machine) (*Config, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid machine state: %w", err)
	}

	c := &Config{
		Version:            Version,
		Controllers:        make(map[string]Controller),
		Elements:           make(map[string]Element),
		Pulses:             make(map[string]Pulse),
		Waveforms:          map[string]Waveform{ZeroWaveform: Constant(0)},
		DigitalWaveforms:   map[string]DigitalWaveform{DigitalOn: {Samples: [][2]int{{1, 0}}}},
		IntegrationWeights: make(map[string]IntegrationWeight),
		Mixers:             make(map[string][]MixerEntry),
	}

	for _, r := range m.Resonators {
		if err := c.addResonator(m, r); err != nil {
			return nil, err
		}
	}
	for _, q := range m.Qubits {
		if err := c.addQubit(m, q); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) addResonator(m *state.Machine, r state.Resonator) error {
	lo := m.ReadoutLO(&r)
	ifFreq := sweep.IntermediateFrequency(r.FRes, lo)
	mixerName, err := c.addMixer(r.Wiring, ifFreq, lo, r.Mixer)
	if err != nil {
		return fmt.Errorf("resonator %s: %w", r.Name, err)
	}
	c.useOutputs(r.Wiring)
	ctrl := r.Wiring.Controller
	c.useInputs(ctrl, 1, 2)

	pulseName := "readout_pulse_" + r.Name
	wfName := "readout_wf_" + r.Name
	weights := c.addReadoutWeights(r.ReadoutPulseLength)

	tof, smearing := r.TimeOfFlight, r.Smearing
	c.Elements[r.Name] = Element{
		MixInputs: &MixInputs{
			I:           Port{ctrl, r.Wiring.I},
			Q:           Port{ctrl, r.Wiring.Q},
			LOFrequency: lo,
			Mixer:       mixerName,
		},
		IntermediateFrequency: ifFreq,
		Operations:            map[string]string{ReadoutOperation: pulseName},
		Outputs: map[string]Port{
			Out1: {ctrl, 1},
			Out2: {ctrl, 2},
		},
		TimeOfFlight: &tof,
		Smearing:     &smearing,
	}
	c.Pulses[pulseName] = Pulse{
		Operation:          OperationMeasurement,
		Length:             r.ReadoutPulseLength,
		Waveforms:          map[string]string{"I": wfName, "Q": ZeroWaveform},
		IntegrationWeights: weights,
		DigitalMarker:      DigitalOn,
	}
	c.Waveforms[wfName] = Constant(r.ReadoutPulseAmp)
	return nil
}

func (c *Config) addQubit(m *state.Machine, q state.Qubit) error {
	lo := m.LocalOscillators.Qubits[q.LO].Freq
	ifFreq := sweep.IntermediateFrequency(q.F01, lo)
	mixerName, err := c.addMixer(q.Wiring, ifFreq, lo, q.Mixer)
	if err != nil {
		return fmt.Errorf("qubit %s: %w", q.Name, err)
	}
	c.useOutputs(q.Wiring)

	gauss, deriv := DragGaussian(q.PiAmp, q.PiLength, q.DragCoefficient, q.Anharmonicity)
	ops := make(map[string]string, len(gateOperations))
	for _, g := range gateOperations {
		pulseName := fmt.Sprintf("%s_%s_pulse", pulseLabel(g.name), q.Name)
		iName := pulseName + "_I_wf"
		qName := pulseName + "_Q_wf"

		// rotate the (gauss, deriv) pair by the drive axis
		cs, sn := math.Cos(g.axis), math.Sin(g.axis)
		iw := make([]float64, len(gauss))
		qw := make([]float64, len(gauss))
		for n := range gauss {
			iw[n] = g.scale * (cs*gauss[n] - sn*deriv[n])
			qw[n] = g.scale * (sn*gauss[n] + cs*deriv[n])
		}

		c.Waveforms[iName] = Arbitrary(iw)
		c.Waveforms[qName] = Arbitrary(qw)
		c.Pulses[pulseName] = Pulse{
			Operation: OperationControl,
			Length:    q.PiLength,
			Waveforms: map[string]string{"I": iName, "Q": qName},
		}
		ops[g.name] = pulseName
	}

	c.Elements[q.Name] = Element{
		MixInputs: &MixInputs{
			I:           Port{q.Wiring.Controller, q.Wiring.I},
			Q:           Port{q.Wiring.Controller, q.Wiring.Q},
			LOFrequency: lo,
			Mixer:       mixerName,
		},
		IntermediateFrequency: ifFreq,
		Operations:            ops,
	}
	return nil
}

func pulseLabel(op string) string {
	switch op {
	case "X":
		return "x180"
	case "X/2":
		return "x90"
	case "-X/2":
		return "minus_x90"
	case "Y":
		return "y180"
	case "Y/2":
		return "y90"
	default:
		return "minus_y90"
	}
}

// addMixer appends the (IF, LO) correction to the mixer feeding the wiring's
// IQ pair and returns the mixer name.
func (c *Config) addMixer(w state.Wiring, ifFreq, lo float64, imb state.MixerImbalance) (string, error) {
	corr, err := mixer.IQImbalance(imb.G, imb.Phi)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("mixer_%s_%d_%d", w.Controller, w.I, w.Q)
	if hasEntry(c.Mixers[name], ifFreq, lo) {
		return name, nil
	}
	c.Mixers[name] = append(c.Mixers[name], MixerEntry{
		IntermediateFrequency: ifFreq,
		LOFrequency:           lo,
		Correction:            corr.Slice(),
	})
	return name, nil
}

func (c *Config) controller(name string) Controller {
	ctrl, ok := c.Controllers[name]
	if !ok {
		ctrl = Controller{
			Type:           ControllerType,
			AnalogOutputs:  make(map[int]AnalogPort),
			DigitalOutputs: map[int]DigitalPort{1: {}},
			AnalogInputs:   make(map[int]AnalogPort),
		}
		c.Controllers[name] = ctrl
	}
	return ctrl
}

func (c *Config) useOutputs(w state.Wiring) {
	ctrl := c.controller(w.Controller)
	ctrl.AnalogOutputs[w.I] = AnalogPort{}
	ctrl.AnalogOutputs[w.Q] = AnalogPort{}
}

func (c *Config) useInputs(name string, ports ...int) {
	ctrl := c.controller(name)
	for _, p := range ports {
		ctrl.AnalogInputs[p] = AnalogPort{}
	}
}

// addReadoutWeights registers the cos/sin/minus_sin weights for a readout
// length (in ns) and returns the pulse's weight references.
func (c *Config) addReadoutWeights(length int) map[string]string {
	cycles := length / 4
	fill := func(v float64) []float64 {
		s := make([]float64, cycles)
		for i := range s {
			s[i] = v
		}
		return s
	}

	refs := make(map[string]string, 3)
	for key, w := range map[string]IntegrationWeight{
		WeightCos:      {Cosine: fill(1), Sine: fill(0)},
		WeightSin:      {Cosine: fill(0), Sine: fill(1)},
		WeightMinusSin: {Cosine: fill(0), Sine: fill(-1)},
	} {
		name := fmt.Sprintf("%s_weights_%d", key, length)
		c.IntegrationWeights[name] = w
		refs[key] = name
	}
	return refs
}

// DragGaussian returns a gaussian of the given amplitude and length (ns, sigma
// length/5) and its DRAG quadrature alpha * dI/dt / (2π anharmonicity).
// With alpha or anharmonicity zero the quadrature is all zeros.
func DragGaussian(amp float64, length int, alpha, anharmonicity float64) (i, q []float64) {
	i = make([]float64, length)
	q = make([]float64, length)
	if length == 0 {
		return i, q
	}

	sigma := float64(length) / 5
	mu := float64(length-1) / 2
	var k float64
	if anharmonicity != 0 {
		// anharmonicity in Hz, time in ns
		k = alpha / (2 * math.Pi * anharmonicity * 1e-9)
	}
	for n := range i {
		t := float64(n) - mu
		i[n] = amp * math.Exp(-t*t/(2*sigma*sigma))
		q[n] = k * (-t / (sigma * sigma)) * i[n]
	}
	return i, q
}

// Ports returns the analog output numbers used on a controller, sorted.
func (c *Config) Ports(controller string) []int {
	ctrl, ok := c.Controllers[controller]
	if !ok {
		return nil
	}
	ports := make([]int, 0, len(ctrl.AnalogOutputs))
	for p := range ctrl.AnalogOutputs {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
