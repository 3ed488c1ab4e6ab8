// Package experiment runs multiplexed resonator spectroscopy end to end.
package experiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/qubitcal/internal/analysis"
	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/plot"
	"github.com/RMahshie/qubitcal/internal/program"
	"github.com/RMahshie/qubitcal/internal/qop"
	"github.com/RMahshie/qubitcal/internal/repository"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/internal/storage"
	"github.com/RMahshie/qubitcal/internal/sweep"
	"github.com/RMahshie/qubitcal/pkg/models"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("a spectroscopy run is already in progress")

// Request describes one spectroscopy run.
type Request struct {
	SweepStart    float64 // Hz
	SweepStop     float64 // Hz, exclusive
	SweepStep     float64 // Hz
	NAvg          int
	DepletionTime int // ns
	Sequential    bool
	Simulate      bool
	SaveState     bool
}

// DefaultRequest matches the reviewed calibration run.
func DefaultRequest() Request {
	return Request{
		SweepStart:    -12e6,
		SweepStop:     12e6,
		SweepStep:     0.1e6,
		NAvg:          1000,
		DepletionTime: 1000,
	}
}

// Options wires a Runner.
type Options struct {
	Store state.Store
	// Service overrides the execution service address stored in the state.
	Service qop.Service
	// Dial connects to the execution service at the state's network address
	// when no Service is set.
	Dial       func(host string, port int) qop.Service
	Simulator  qop.Service // used when Request.Simulate is set
	Repository repository.RunRepository
	Archive    storage.Archive // optional
	Scaler     analysis.Scaler
	PlotDir    string // optional
	Simulation qop.SimulationConfig
}

// Runner executes spectroscopy runs one at a time.
type Runner struct {
	store      state.Store
	service    qop.Service
	dial       func(host string, port int) qop.Service
	simulator  qop.Service
	repo       repository.RunRepository
	archive    storage.Archive
	scaler     analysis.Scaler
	plotDir    string
	simulation qop.SimulationConfig

	mu sync.Mutex
}

// NewRunner creates a runner
func NewRunner(opts Options) *Runner {
	scaler := opts.Scaler
	if scaler.Factor == 0 {
		scaler = analysis.DefaultScaler
	}
	return &Runner{
		store:      opts.Store,
		service:    opts.Service,
		dial:       opts.Dial,
		simulator:  opts.Simulator,
		repo:       opts.Repository,
		archive:    opts.Archive,
		scaler:     scaler,
		plotDir:    opts.PlotDir,
		simulation: opts.Simulation,
	}
}

// channel is the per-resonator data flowing through a run.
type channel struct {
	resonator state.Resonator
	lo        float64
	i, q      []float64
	magnitude []float64
	phase     []float64
	axis      []float64 // MHz
	outcome   analysis.FitOutcome
}

// Run measures every resonator in the stored state, fits each trace and
// optionally writes the fitted resonances back.
func (r *Runner) Run(ctx context.Context, req Request) (*models.RunResults, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	// Step 1: Record the run
	now := time.Now()
	run := &models.SpectroscopyRun{
		ID:            uuid.New().String(),
		Status:        models.StatusPending,
		Simulated:     req.Simulate,
		NAvg:          req.NAvg,
		DepletionTime: req.DepletionTime,
		SweepStart:    req.SweepStart,
		SweepStop:     req.SweepStop,
		SweepStep:     req.SweepStep,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	runID := uuid.MustParse(run.ID)
	log.Info().Str("runID", run.ID).Bool("simulate", req.Simulate).Msg("Spectroscopy run started")

	channels, err := r.measure(ctx, runID, req)
	if err != nil {
		return nil, r.fail(ctx, runID, err)
	}

	if err := r.persist(ctx, runID, req, channels); err != nil {
		return nil, r.fail(ctx, runID, err)
	}

	// Step 8: Mark complete
	if err := r.repo.UpdateStatus(ctx, runID, models.StatusCompleted, 100); err != nil {
		return nil, r.fail(ctx, runID, err)
	}
	log.Info().Str("runID", run.ID).Msg("Spectroscopy run completed")

	return r.Results(ctx, runID)
}

// serviceFor picks the simulator, the configured service or one dialed at
// the state's network address, in that order.
func (r *Runner) serviceFor(req Request, network state.Network) (qop.Service, error) {
	if req.Simulate {
		if r.simulator == nil {
			return nil, errors.New("no simulator configured")
		}
		return r.simulator, nil
	}
	if r.service != nil {
		return r.service, nil
	}
	if r.dial == nil || network.QOPIP == "" {
		return nil, errors.New("no execution service address in state or configuration")
	}
	log.Info().Str("host", network.QOPIP).Int("port", network.QOPPort).Msg("Connecting to execution service from state")
	return r.dial(network.QOPIP, network.QOPPort), nil
}

// measure covers steps 2 to 5: build, execute, fetch, convert and fit.
func (r *Runner) measure(ctx context.Context, runID uuid.UUID, req Request) ([]*channel, error) {
	// Step 2: Load the state and build the configuration from a snapshot
	if err := r.repo.UpdateStatus(ctx, runID, models.StatusRunning, 10); err != nil {
		return nil, err
	}
	live, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	snap := live.Snapshot()

	svc, err := r.serviceFor(req, snap.Network)
	if err != nil {
		return nil, err
	}

	cfg, err := hwconfig.Build(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to build configuration: %w", err)
	}

	// Step 3: Sweep and program
	offsets, err := sweep.Arange(req.SweepStart, req.SweepStop, req.SweepStep)
	if err != nil {
		return nil, err
	}
	params := program.Params{
		NAvg:          req.NAvg,
		DepletionTime: req.DepletionTime,
		Offsets:       offsets,
		Sequential:    req.Sequential,
	}
	channels := make([]*channel, len(snap.Resonators))
	for k := range snap.Resonators {
		res := snap.Resonators[k]
		lo := snap.ReadoutLO(&res)
		channels[k] = &channel{resonator: res, lo: lo}
		params.Channels = append(params.Channels, program.ChannelParams{
			Element:   res.Name,
			Resonance: res.FRes,
			LO:        lo,
		})
	}
	prog, err := program.NewSpectroscopy(params)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble program: %w", err)
	}
	for k, ch := range prog.Channels {
		log.Info().
			Str("runID", runID.String()).
			Str("element", ch.Element).
			Float64("fRes", channels[k].resonator.FRes).
			Float64("if", ch.IntermediateFrequency).
			Int("points", prog.Points()).
			Msg("Sweeping resonator")
	}

	if req.Simulate && r.plotDir != "" {
		if err := r.plotSimulation(ctx, runID, svc, cfg, prog); err != nil {
			return nil, err
		}
	}

	// Step 4: Execute and fetch
	if err := r.progress(ctx, runID, 30); err != nil {
		return nil, err
	}
	job, err := svc.Execute(ctx, cfg, prog)
	if err != nil {
		return nil, err
	}
	results, fetchErr := job.Fetch(ctx, prog.StreamNames()...)
	if err := job.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("jobID", job.ID()).Msg("Failed to close job")
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", fetchErr)
	}
	if err := results.Check(prog.Points(), prog.StreamNames()...); err != nil {
		return nil, err
	}

	// Step 5: Volts, magnitude and best-effort fits
	if err := r.progress(ctx, runID, 60); err != nil {
		return nil, err
	}
	unit := analysis.MHz
	for k, ch := range prog.Channels {
		c := channels[k]
		c.i, _ = results.Get(ch.StreamI)
		c.q, _ = results.Get(ch.StreamQ)
		z, err := r.scaler.ToVolts(c.i, c.q, float64(c.resonator.ReadoutPulseLength))
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", ch.Element, err)
		}
		c.magnitude = analysis.Magnitude(z)
		c.phase = analysis.Phase(z)
		c.axis = analysis.AbsoluteAxis(c.resonator.FRes, offsets, unit)
		c.outcome = analysis.BestEffortFit(c.axis, c.magnitude)

		if c.outcome.OK() {
			log.Info().
				Str("element", ch.Element).
				Float64("fit", c.outcome.Fit.Frequency*unit).
				Float64("linewidth", c.outcome.Fit.Linewidth*unit).
				Msg("Resonance fitted")
		} else {
			log.Warn().Str("element", ch.Element).Str("reason", c.outcome.Reason).Msg("Resonance fit skipped")
		}
	}
	return channels, nil
}

// persist covers steps 6 and 7: plot and archive, then apply fits and store
// the channel results.
func (r *Runner) persist(ctx context.Context, runID uuid.UUID, req Request, channels []*channel) error {
	// Step 6: Plot and archive raw traces
	if err := r.progress(ctx, runID, 85); err != nil {
		return err
	}
	png, err := r.plot(runID, channels)
	if err != nil {
		log.Warn().Err(err).Str("runID", runID.String()).Msg("Plot skipped")
	}
	if r.archive != nil {
		traces, err := encodeTraces(runID, channels)
		if err != nil {
			return err
		}
		key := storage.RunKey(runID.String(), TracesObject)
		if err := r.archive.Upload(ctx, key, traces, storage.ContentTypeJSON); err != nil {
			return err
		}
		if png != nil {
			if err := r.archive.Upload(ctx, storage.RunKey(runID.String(), PlotObject), png, storage.ContentTypePNG); err != nil {
				return err
			}
		}
		if err := r.repo.SetArchiveKey(ctx, runID, key); err != nil {
			return err
		}
	}

	// Step 7: Apply fits and store results
	applied := make([]bool, len(channels))
	if req.SaveState {
		// The live state may have changed since the snapshot; match by name.
		live, err := r.store.Load(ctx)
		if err != nil {
			return err
		}
		for k, c := range channels {
			for idx := range live.Resonators {
				if live.Resonators[idx].Name == c.resonator.Name {
					applied[k] = live.ApplyFit(idx, c.outcome, analysis.MHz)
				}
			}
		}
		if err := r.store.Save(ctx, live); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		if err := r.repo.MarkStateSaved(ctx, runID); err != nil {
			return err
		}
	}

	rows := make([]*models.ChannelResult, len(channels))
	for k, c := range channels {
		rows[k] = c.result(runID, applied[k])
	}
	return r.repo.StoreChannelResults(ctx, rows)
}

// result converts a channel into its stored form. Points with a non-finite
// magnitude or phase are left out of the frequency data.
func (c *channel) result(runID uuid.UUID, applied bool) *models.ChannelResult {
	points := make([]models.FrequencyPoint, 0, len(c.axis))
	for n := range c.axis {
		if !finite(c.magnitude[n]) || !finite(c.phase[n]) {
			continue
		}
		points = append(points, models.FrequencyPoint{
			Frequency: c.axis[n] * analysis.MHz,
			Magnitude: c.magnitude[n],
			Phase:     c.phase[n],
		})
	}
	res := &models.ChannelResult{
		ID:                    uuid.New().String(),
		RunID:                 runID.String(),
		Element:               c.resonator.Name,
		ReadoutPulseLength:    c.resonator.ReadoutPulseLength,
		IntermediateFrequency: sweep.IntermediateFrequency(c.resonator.FRes, c.lo),
		ResonanceBefore:       c.resonator.FRes,
		FrequencyData:         points,
		Applied:               applied,
		CreatedAt:             time.Now(),
	}
	if c.outcome.OK() {
		f := c.outcome.Fit.Frequency * analysis.MHz
		k := c.outcome.Fit.Linewidth * analysis.MHz
		res.FitFrequency = &f
		res.FitLinewidth = &k
	} else {
		reason := c.outcome.Reason
		res.FitReason = &reason
	}
	return res
}

// plot renders the magnitude panels and also saves them under PlotDir when
// set.
func (r *Runner) plot(runID uuid.UUID, channels []*channel) ([]byte, error) {
	panels := make([]plot.Panel, len(channels))
	for k, c := range channels {
		panels[k] = plot.Panel{
			Title:  c.resonator.Name,
			XLabel: "Frequency [MHz]",
			YLabel: "|IQ| [V]",
			X:      c.axis,
			Y:      c.magnitude,
		}
		if c.outcome.OK() {
			panels[k].Fit = c.outcome.Fit.Curve(c.axis)
		}
	}

	var buf bytes.Buffer
	if err := plot.Row(&buf, panels); err != nil {
		return nil, fmt.Errorf("failed to plot run: %w", err)
	}
	if r.plotDir != "" {
		path := filepath.Join(r.plotDir, runID.String()+".png")
		if err := plot.SaveRow(path, panels); err != nil {
			return nil, fmt.Errorf("failed to write plot: %w", err)
		}
		log.Info().Str("path", path).Msg("Plot written")
	}
	return buf.Bytes(), nil
}

// plotSimulation renders the simulated analog outputs per controller.
func (r *Runner) plotSimulation(ctx context.Context, runID uuid.UUID, svc qop.Service, cfg *hwconfig.Config, prog *program.Spectroscopy) error {
	samples, err := svc.Simulate(ctx, cfg, prog, r.simulation)
	if err != nil {
		return err
	}
	for name, cs := range samples.Controllers {
		path := filepath.Join(r.plotDir, fmt.Sprintf("%s_%s_waveforms.png", runID, name))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = plot.Waveforms(f, "Simulated samples "+name, cs.Analog)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to plot simulated samples: %w", err)
		}
	}
	return nil
}

// Object names under a run's archive prefix.
const (
	TracesObject = "traces.json"
	PlotObject   = "spectroscopy.png"
)

type traceDoc struct {
	RunID    string                  `json:"run_id"`
	Channels map[string]channelTrace `json:"channels"`
}

type channelTrace struct {
	Frequencies samples             `json:"frequencies"`
	I           samples             `json:"I"`
	Q           samples             `json:"Q"`
	Fit         analysis.FitOutcome `json:"fit"`
}

// samples encodes NaN and infinite values as null.
type samples []float64

func (s samples) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(s))
	for n := range s {
		if finite(s[n]) {
			out[n] = &s[n]
		}
	}
	return json.Marshal(out)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func encodeTraces(runID uuid.UUID, channels []*channel) ([]byte, error) {
	doc := traceDoc{RunID: runID.String(), Channels: make(map[string]channelTrace, len(channels))}
	for _, c := range channels {
		freqs := make([]float64, len(c.axis))
		for n, x := range c.axis {
			freqs[n] = x * analysis.MHz
		}
		doc.Channels[c.resonator.Name] = channelTrace{Frequencies: freqs, I: c.i, Q: c.q, Fit: c.outcome}
	}
	return json.Marshal(doc)
}

// Results returns a run with its channel results.
func (r *Runner) Results(ctx context.Context, runID uuid.UUID) (*models.RunResults, error) {
	run, err := r.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	channels, err := r.repo.GetChannelResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &models.RunResults{Run: run, Channels: channels}, nil
}

func (r *Runner) progress(ctx context.Context, runID uuid.UUID, p int) error {
	return r.repo.UpdateStatus(ctx, runID, models.StatusRunning, p)
}

// fail marks the run failed and returns err.
func (r *Runner) fail(ctx context.Context, runID uuid.UUID, err error) error {
	log.Error().Err(err).Str("runID", runID.String()).Msg("Spectroscopy run failed")
	if uerr := r.repo.UpdateError(context.WithoutCancel(ctx), runID, err.Error()); uerr != nil {
		log.Error().Err(uerr).Str("runID", runID.String()).Msg("Failed to record run failure")
	}
	return err
}
