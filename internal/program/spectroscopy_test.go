package program

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/internal/sweep"
)

func testParams(t *testing.T) Params {
	t.Helper()
	dfs, err := sweep.Arange(-12e6, 12e6, 0.1e6)
	require.NoError(t, err)
	return Params{
		NAvg:          1000,
		DepletionTime: 1000,
		Offsets:       dfs,
		Channels: []ChannelParams{
			{Element: "rr0", Resonance: 6.2e9, LO: 6.35e9},
			{Element: "rr1", Resonance: 6.4e9, LO: 6.35e9},
		},
	}
}

func TestNewSpectroscopy(t *testing.T) {
	prog, err := NewSpectroscopy(testParams(t))
	require.NoError(t, err)

	assert.Equal(t, KindSpectroscopy, prog.Kind)
	assert.Equal(t, 240, prog.Points())
	assert.Equal(t, int64(-12000000), prog.Offsets[0])
	assert.Equal(t, []string{"I1", "Q1", "I2", "Q2"}, prog.StreamNames())

	require.Len(t, prog.Channels, 2)
	assert.InDelta(t, -150e6, prog.Channels[0].IntermediateFrequency, 1e-3)
	assert.InDelta(t, 50e6, prog.Channels[1].IntermediateFrequency, 1e-3)
	assert.Equal(t, DemodQ, prog.Channels[1].DemodQ)

	f := prog.Frequencies(1)
	assert.InDelta(t, 38e6, f[0], 1e-3)
	assert.InDelta(t, 50e6, f[120], 1e-3)
}

func TestNewSpectroscopy_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no averages", func(p *Params) { p.NAvg = 0 }},
		{"depletion not multiple of 4", func(p *Params) { p.DepletionTime = 1001 }},
		{"empty sweep", func(p *Params) { p.Offsets = nil }},
		{"no channels", func(p *Params) { p.Channels = nil }},
		{"unnamed channel", func(p *Params) { p.Channels[0].Element = "" }},
		{"duplicate channel", func(p *Params) { p.Channels[1].Element = "rr0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(t)
			tt.mutate(&p)
			_, err := NewSpectroscopy(p)
			assert.Error(t, err)
		})
	}
}

func TestCheckConfig(t *testing.T) {
	m, err := state.NewFileStore(filepath.Join("..", "..", "testdata", "quam_state.json")).Load(context.Background())
	require.NoError(t, err)
	cfg, err := hwconfig.Build(m)
	require.NoError(t, err)

	prog, err := NewSpectroscopy(testParams(t))
	require.NoError(t, err)
	assert.NoError(t, prog.CheckConfig(cfg))

	p := testParams(t)
	p.Channels[1].Element = "qubit"
	prog, err = NewSpectroscopy(p)
	require.NoError(t, err)
	assert.Error(t, prog.CheckConfig(cfg))

	p.Channels[1].Element = "rr7"
	prog, err = NewSpectroscopy(p)
	require.NoError(t, err)
	assert.Error(t, prog.CheckConfig(cfg))
}
