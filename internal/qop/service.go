// Package qop talks to the execution service that compiles and runs programs
// on the controller, and provides an in-process loopback stand-in for it.
package qop

import (
	"context"
	"fmt"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/program"
)

// Service runs programs against a configuration.
type Service interface {
	Execute(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy) (Job, error)
	Simulate(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy, sim SimulationConfig) (*SimulatedSamples, error)
}

// Job is a running or finished program.
type Job interface {
	ID() string
	// Fetch blocks until the named result streams are available.
	Fetch(ctx context.Context, names ...string) (Results, error)
	// Close releases the machine and returns its outputs to zero.
	Close(ctx context.Context) error
}

// Results maps result stream names to their averaged values.
type Results map[string][]float64

// Get returns one stream.
func (r Results) Get(name string) ([]float64, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("result %q not returned", name)
	}
	return v, nil
}

// Check verifies every name is present with the expected length.
func (r Results) Check(points int, names ...string) error {
	for _, name := range names {
		v, err := r.Get(name)
		if err != nil {
			return err
		}
		if len(v) != points {
			return fmt.Errorf("result %q has %d points, want %d", name, len(v), points)
		}
	}
	return nil
}

// LoopbackConnection wires an analog output to an analog input in simulation.
type LoopbackConnection struct {
	FromController string `json:"from_controller"`
	FromPort       int    `json:"from_port"`
	ToController   string `json:"to_controller"`
	ToPort         int    `json:"to_port"`
}

// SimulationConfig bounds a simulation. Duration is in clock cycles (4 ns),
// Latency in ns.
type SimulationConfig struct {
	Duration    int                  `json:"duration"`
	Connections []LoopbackConnection `json:"connections,omitempty"`
	Latency     int                  `json:"latency"`
}

// DefaultLoopback connects outputs 1 and 2 of con1 to its inputs 1 and 2.
func DefaultLoopback(duration, latency int) SimulationConfig {
	return SimulationConfig{
		Duration: duration,
		Connections: []LoopbackConnection{
			{"con1", 1, "con1", 1},
			{"con1", 2, "con1", 2},
		},
		Latency: latency,
	}
}

// ControllerSamples holds 1 GS/s samples per port number.
type ControllerSamples struct {
	Analog map[int][]float64 `json:"analog"`
	Inputs map[int][]float64 `json:"inputs,omitempty"`
}

// SimulatedSamples are the waveforms the controllers would have produced.
type SimulatedSamples struct {
	Controllers map[string]ControllerSamples `json:"controllers"`
}
