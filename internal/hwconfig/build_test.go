package hwconfig

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/qubitcal/internal/mixer"
	"github.com/RMahshie/qubitcal/internal/state"
)

func loadMachine(t *testing.T) *state.Machine {
	t.Helper()
	m, err := state.NewFileStore(filepath.Join("..", "..", "testdata", "quam_state.json")).Load(context.Background())
	require.NoError(t, err)
	return m
}

func TestBuild_Elements(t *testing.T) {
	cfg, err := Build(loadMachine(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"qubit", "rr0", "rr1"}, cfg.ElementNames())

	rr0 := cfg.Elements["rr0"]
	require.NotNil(t, rr0.MixInputs)
	assert.InDelta(t, -150e6, rr0.IntermediateFrequency, 1e-3)
	assert.Equal(t, 6.35e9, rr0.MixInputs.LOFrequency)
	assert.Equal(t, Port{"con1", 3}, rr0.MixInputs.I)
	assert.Equal(t, "readout_pulse_rr0", rr0.Operations[ReadoutOperation])
	assert.Equal(t, 28, *rr0.TimeOfFlight)
	assert.Equal(t, 0, *rr0.Smearing)

	assert.InDelta(t, 50e6, cfg.Elements["rr1"].IntermediateFrequency, 1e-3)
	assert.InDelta(t, 100e6, cfg.Elements["qubit"].IntermediateFrequency, 1e-3)
	assert.Len(t, cfg.Elements["qubit"].Operations, 6)
}

func TestBuild_SharedMixerHasEntryPerIF(t *testing.T) {
	cfg, err := Build(loadMachine(t))
	require.NoError(t, err)

	entries := cfg.Mixers["mixer_con1_3_4"]
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, mixer.Identity.Slice(), e.Correction)
	}
	assert.Len(t, cfg.Mixers["mixer_con1_1_2"], 1)
}

func TestBuild_ReadoutPulse(t *testing.T) {
	cfg, err := Build(loadMachine(t))
	require.NoError(t, err)

	p := cfg.Pulses["readout_pulse_rr1"]
	assert.Equal(t, OperationMeasurement, p.Operation)
	assert.Equal(t, 1000, p.Length)
	assert.Equal(t, DigitalOn, p.DigitalMarker)
	require.Contains(t, p.IntegrationWeights, WeightMinusSin)

	w := cfg.IntegrationWeights[p.IntegrationWeights[WeightMinusSin]]
	assert.Len(t, w.Cosine, 250)
	assert.Equal(t, -1.0, w.Sine[0])

	amp := cfg.Waveforms[p.Waveforms["I"]]
	assert.Equal(t, WaveformConstant, amp.Type)
	assert.Equal(t, 0.05, *amp.Sample)
}

func TestBuild_JSONLayout(t *testing.T) {
	cfg, err := Build(loadMachine(t))
	require.NoError(t, err)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"version", "controllers", "elements", "pulses", "waveforms",
		"digital_waveforms", "integration_weights", "mixers"} {
		assert.Contains(t, raw, key)
	}

	con1 := raw["controllers"].(map[string]any)["con1"].(map[string]any)
	assert.Equal(t, "opx1", con1["type"])
	assert.Contains(t, con1["analog_outputs"], "3")
	assert.Contains(t, con1["analog_inputs"], "2")

	rr0 := raw["elements"].(map[string]any)["rr0"].(map[string]any)
	mix := rr0["mixInputs"].(map[string]any)
	assert.Equal(t, []any{"con1", 3.0}, mix["I"])
	assert.Equal(t, "mixer_con1_3_4", mix["mixer"])
	assert.Equal(t, []any{"con1", 1.0}, rr0["outputs"].(map[string]any)["out1"])

	zero := raw["waveforms"].(map[string]any)[ZeroWaveform].(map[string]any)
	assert.Equal(t, 0.0, zero["sample"])

	on := raw["digital_waveforms"].(map[string]any)[DigitalOn].(map[string]any)
	assert.Equal(t, []any{[]any{1.0, 0.0}}, on["samples"])

	qubit := raw["elements"].(map[string]any)["qubit"].(map[string]any)
	assert.NotContains(t, qubit, "outputs")
	assert.NotContains(t, qubit, "time_of_flight")
}

func TestPort_UnmarshalJSON(t *testing.T) {
	var p Port
	require.NoError(t, json.Unmarshal([]byte(`["con2", 7]`), &p))
	assert.Equal(t, Port{"con2", 7}, p)

	assert.Error(t, json.Unmarshal([]byte(`["con2"]`), &p))
}

func TestBuild_MixerImbalance(t *testing.T) {
	m := loadMachine(t)
	m.Qubits[0].Mixer = state.MixerImbalance{G: 0.02, Phi: 0.05}

	cfg, err := Build(m)
	require.NoError(t, err)

	want, err := mixer.IQImbalance(0.02, 0.05)
	require.NoError(t, err)
	assert.Equal(t, want.Slice(), cfg.Mixers["mixer_con1_1_2"][0].Correction)
}

func TestBuild_SingularMixer(t *testing.T) {
	m := loadMachine(t)
	m.Resonators[0].Mixer = state.MixerImbalance{G: 0, Phi: math.Pi / 4}

	_, err := Build(m)
	assert.ErrorIs(t, err, mixer.ErrSingularCorrection)
}

func TestBuild_InvalidState(t *testing.T) {
	m := loadMachine(t)
	m.Resonators = nil

	_, err := Build(m)
	assert.Error(t, err)
}

func TestValidate_BrokenReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown pulse", func(c *Config) {
			c.Elements["rr0"].Operations[ReadoutOperation] = "nope"
		}},
		{"unknown waveform", func(c *Config) {
			delete(c.Waveforms, ZeroWaveform)
		}},
		{"unknown integration weight", func(c *Config) {
			delete(c.IntegrationWeights, "cos_weights_1000")
		}},
		{"unknown digital marker", func(c *Config) {
			delete(c.DigitalWaveforms, DigitalOn)
		}},
		{"unknown mixer", func(c *Config) {
			delete(c.Mixers, "mixer_con1_1_2")
		}},
		{"missing mixer entry", func(c *Config) {
			el := c.Elements["rr1"]
			el.IntermediateFrequency = 1
			c.Elements["rr1"] = el
		}},
		{"short arbitrary waveform", func(c *Config) {
			c.Waveforms["x180_qubit_pulse_I_wf"] = Arbitrary([]float64{0})
		}},
		{"missing analog output", func(c *Config) {
			delete(c.Controllers["con1"].AnalogOutputs, 4)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Build(loadMachine(t))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDragGaussian(t *testing.T) {
	i, q := DragGaussian(0.2, 40, 0.5, -200e6)
	require.Len(t, i, 40)

	// gaussian is symmetric, derivative antisymmetric
	for n := 0; n < 20; n++ {
		assert.InDelta(t, i[n], i[39-n], 1e-12)
		assert.InDelta(t, q[n], -q[39-n], 1e-12)
	}
	assert.InDelta(t, 0.2, i[19], 0.01)

	_, flat := DragGaussian(0.2, 40, 0, -200e6)
	for _, v := range flat {
		assert.Zero(t, v)
	}
}

func TestBuild_Ports(t *testing.T) {
	cfg, err := Build(loadMachine(t))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, cfg.Ports("con1"))
	assert.Nil(t, cfg.Ports("con9"))
}
