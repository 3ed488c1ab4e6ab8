package qop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/program"
)

// ErrJobClosed is returned when fetching from a closed job.
var ErrJobClosed = errors.New("job closed")

// Loopback is an in-process Service. Each readout element behaves as a
// reflection resonator; results carry averaged gaussian noise.
type Loopback struct {
	// Resonances overrides the true resonance (Hz) per element. Elements not
	// listed resonate exactly at LO + IF.
	Resonances map[string]float64
	// Linewidth of every resonator, Hz.
	Linewidth float64
	// Depth of the reflection dip, 0..1.
	Depth float64
	// Noise is the single-shot standard deviation of I and Q, in volts.
	Noise float64
	// DemodFactor converts volts into raw demodulated values.
	DemodFactor float64
	Seed        uint64

	mu   sync.Mutex
	jobs map[string]*loopbackJob
}

// NewLoopback returns a loopback with typical resonator parameters.
func NewLoopback() *Loopback {
	return &Loopback{
		Resonances:  make(map[string]float64),
		Linewidth:   1e6,
		Depth:       0.8,
		Noise:       1e-4,
		DemodFactor: 4096,
		Seed:        1,
	}
}

// Execute computes the averaged I/Q of every channel.
func (l *Loopback) Execute(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy) (Job, error) {
	if err := prog.CheckConfig(cfg); err != nil {
		return nil, fmt.Errorf("program does not match configuration: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(l.Seed, l.Seed^0x9e3779b97f4a7c15))
	sigma := l.Noise / math.Sqrt(float64(prog.NAvg))

	results := make(Results, 2*len(prog.Channels))
	for k, ch := range prog.Channels {
		el := cfg.Elements[ch.Element]
		pulse := cfg.Pulses[el.Operations[ch.Operation]]
		amp := constantAmplitude(cfg, pulse)
		lo := el.MixInputs.LOFrequency

		f0, ok := l.Resonances[ch.Element]
		if !ok {
			f0 = lo + el.IntermediateFrequency
		}
		// volts -> raw demod value for this pulse length
		raw := float64(pulse.Length) / l.DemodFactor

		iv := make([]float64, prog.Points())
		qv := make([]float64, prog.Points())
		for n, f := range prog.Frequencies(k) {
			s := l.reflection(lo+f, f0)
			v := complex(amp, 0) * s
			iv[n] = raw * (real(v) + sigma*rng.NormFloat64())
			qv[n] = raw * (imag(v) + sigma*rng.NormFloat64())
		}
		results[ch.StreamI] = iv
		results[ch.StreamQ] = qv
	}

	job := &loopbackJob{owner: l, id: uuid.New().String(), results: results}
	l.mu.Lock()
	if l.jobs == nil {
		l.jobs = make(map[string]*loopbackJob)
	}
	l.jobs[job.id] = job
	l.mu.Unlock()
	return job, nil
}

// reflection is S11 of a resonator probed at f.
func (l *Loopback) reflection(f, f0 float64) complex128 {
	x := 2 * (f - f0) / l.Linewidth
	return 1 - complex(l.Depth, 0)/complex(1, x)
}

// Magnitude is |S11| at f for a resonator at f0.
func (l *Loopback) Magnitude(f, f0 float64) float64 {
	return cmplx.Abs(l.reflection(f, f0))
}

// OpenJobs returns the number of jobs not yet closed.
func (l *Loopback) OpenJobs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// Simulate renders the analog outputs of the first Duration clock cycles of
// the program and feeds them to the loopback inputs.
func (l *Loopback) Simulate(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy, sim SimulationConfig) (*SimulatedSamples, error) {
	if err := prog.CheckConfig(cfg); err != nil {
		return nil, fmt.Errorf("program does not match configuration: %w", err)
	}
	if sim.Duration <= 0 {
		return nil, fmt.Errorf("simulation duration must be positive, got %d", sim.Duration)
	}

	total := 4 * sim.Duration
	out := &SimulatedSamples{Controllers: make(map[string]ControllerSamples)}
	for name, ctrl := range cfg.Controllers {
		cs := ControllerSamples{Analog: make(map[int][]float64), Inputs: make(map[int][]float64)}
		for p := range ctrl.AnalogOutputs {
			cs.Analog[p] = make([]float64, total)
		}
		for p := range ctrl.AnalogInputs {
			cs.Inputs[p] = make([]float64, total)
		}
		out.Controllers[name] = cs
	}

	t := 0
render:
	for rep := 0; rep < prog.NAvg; rep++ {
		for n := range prog.Offsets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t += prog.DepletionTime
			start := t
			for k, ch := range prog.Channels {
				if t >= total {
					break render
				}
				el := cfg.Elements[ch.Element]
				pulse := cfg.Pulses[el.Operations[ch.Operation]]
				amp := constantAmplitude(cfg, pulse)
				f := prog.Frequencies(k)[n]

				iOut := out.Controllers[el.MixInputs.I.Controller].Analog[el.MixInputs.I.Number]
				qOut := out.Controllers[el.MixInputs.Q.Controller].Analog[el.MixInputs.Q.Number]
				for s := 0; s < pulse.Length && start+s < total; s++ {
					ph := 2 * math.Pi * f * float64(s) * 1e-9
					iOut[start+s] += amp * math.Cos(ph)
					qOut[start+s] += amp * math.Sin(ph)
				}
				end := start + pulse.Length
				if end > t {
					t = end
				}
				if prog.Sequential {
					start = end
				}
			}
		}
	}

	for _, c := range sim.Connections {
		src, ok := out.Controllers[c.FromController].Analog[c.FromPort]
		if !ok {
			return nil, fmt.Errorf("loopback source %s:%d is not an analog output", c.FromController, c.FromPort)
		}
		dst, ok := out.Controllers[c.ToController].Inputs[c.ToPort]
		if !ok {
			return nil, fmt.Errorf("loopback target %s:%d is not an analog input", c.ToController, c.ToPort)
		}
		for s := 0; s+sim.Latency < total; s++ {
			dst[s+sim.Latency] += src[s]
		}
	}

	return out, nil
}

func constantAmplitude(cfg *hwconfig.Config, pulse hwconfig.Pulse) float64 {
	wf := cfg.Waveforms[pulse.Waveforms["I"]]
	if wf.Sample != nil {
		return *wf.Sample
	}
	if len(wf.Samples) > 0 {
		return wf.Samples[len(wf.Samples)/2]
	}
	return 0
}

type loopbackJob struct {
	owner   *Loopback
	id      string
	results Results

	mu     sync.Mutex
	closed bool
}

func (j *loopbackJob) ID() string { return j.id }

func (j *loopbackJob) Fetch(ctx context.Context, names ...string) (Results, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrJobClosed
	}

	out := make(Results, len(names))
	for _, name := range names {
		v, err := j.results.Get(name)
		if err != nil {
			return nil, err
		}
		out[name] = append([]float64(nil), v...)
	}
	return out, nil
}

func (j *loopbackJob) Close(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()

	j.owner.mu.Lock()
	delete(j.owner.jobs, j.id)
	j.owner.mu.Unlock()
	return nil
}
