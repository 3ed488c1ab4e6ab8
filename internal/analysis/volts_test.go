package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaler_ToVolts(t *testing.T) {
	z, err := DefaultScaler.ToVolts([]float64{0.001, -0.002}, []float64{0.003, 0}, 1000)
	require.NoError(t, err)
	require.Len(t, z, 2)

	assert.InDelta(t, 4096*0.001/1000, real(z[0]), 1e-15)
	assert.InDelta(t, 4096*0.003/1000, imag(z[0]), 1e-15)
	assert.InDelta(t, 4096*-0.002/1000, real(z[1]), 1e-15)
}

func TestScaler_DurationDependent(t *testing.T) {
	short, err := DefaultScaler.Scale(500)
	require.NoError(t, err)
	long, err := DefaultScaler.Scale(2000)
	require.NoError(t, err)
	assert.InDelta(t, 4*long, short, 1e-12)

	single := Scaler{Factor: DefaultDemodFactor, SingleDemod: true}
	k, err := single.Scale(2000)
	require.NoError(t, err)
	assert.InDelta(t, 2*long, k, 1e-12)

	custom := Scaler{Factor: 1}
	k, err = custom.Scale(4)
	require.NoError(t, err)
	assert.Equal(t, 0.25, k)
}

func TestScaler_Errors(t *testing.T) {
	_, err := DefaultScaler.ToVolts([]float64{1, 2}, []float64{1}, 1000)
	assert.Error(t, err)

	_, err = DefaultScaler.ToVolts([]float64{1}, []float64{1}, 0)
	assert.Error(t, err)

	_, err = DefaultScaler.Scale(math.NaN())
	assert.Error(t, err)
}

func TestMagnitudeAndPhase(t *testing.T) {
	z := []complex128{complex(3, 4), complex(0, -2), 0}
	assert.Equal(t, []float64{5, 2, 0}, Magnitude(z))

	ph := Phase(z)
	assert.InDelta(t, math.Atan2(4, 3), ph[0], 1e-12)
	assert.InDelta(t, -math.Pi/2, ph[1], 1e-12)
}

func TestAbsoluteAxis(t *testing.T) {
	axis := AbsoluteAxis(6.2e9, []float64{-1e6, 0, 1e6}, MHz)
	assert.InDeltaSlice(t, []float64{6199, 6200, 6201}, axis, 1e-9)
}
