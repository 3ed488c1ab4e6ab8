package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/program"
	"github.com/RMahshie/qubitcal/internal/qop"
	"github.com/RMahshie/qubitcal/internal/repository/memory"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/pkg/models"
)

// MockService is a mock implementation of qop.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Execute(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy) (qop.Job, error) {
	args := m.Called(ctx, cfg, prog)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(qop.Job), args.Error(1)
}

func (m *MockService) Simulate(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy, sim qop.SimulationConfig) (*qop.SimulatedSamples, error) {
	args := m.Called(ctx, cfg, prog, sim)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qop.SimulatedSamples), args.Error(1)
}

// MockJob is a mock implementation of qop.Job
type MockJob struct {
	mock.Mock
}

func (m *MockJob) ID() string { return "job-1" }

func (m *MockJob) Fetch(ctx context.Context, names ...string) (qop.Results, error) {
	args := m.Called(ctx, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(qop.Results), args.Error(1)
}

func (m *MockJob) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockArchive is a mock implementation of storage.Archive
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *MockArchive) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockArchive) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchive) DeleteFile(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// copyState places the fixture state in a temp dir and returns its store
func copyState(t *testing.T) *state.FileStore {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "quam_state.json"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "quam_state.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return state.NewFileStore(path)
}

func smallRequest() Request {
	return Request{
		SweepStart:    -5e6,
		SweepStop:     5e6,
		SweepStep:     0.1e6,
		NAvg:          100,
		DepletionTime: 1000,
	}
}

func TestRun_SimulatedFitsAndSavesState(t *testing.T) {
	store := copyState(t)
	loop := qop.NewLoopback()
	loop.Resonances["rr0"] = 6.2e9 + 0.3e6
	loop.Resonances["rr1"] = 6.4e9 - 0.4e6

	plotDir := t.TempDir()
	runner := NewRunner(Options{
		Store:      store,
		Simulator:  loop,
		Repository: memory.NewRunRepository(),
		PlotDir:    plotDir,
		Simulation: qop.DefaultLoopback(500, 24),
	})

	req := smallRequest()
	req.Simulate = true
	req.SaveState = true

	results, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, results.Run.Status)
	assert.True(t, results.Run.Simulated)
	assert.True(t, results.Run.StateSaved)
	require.Len(t, results.Channels, 2)

	for _, ch := range results.Channels {
		require.NotNil(t, ch.FitFrequency, ch.Element)
		assert.InDelta(t, loop.Resonances[ch.Element], *ch.FitFrequency, 20e3, ch.Element)
		assert.True(t, ch.Applied)
		assert.Len(t, ch.FrequencyData, 100)
	}
	assert.Zero(t, loop.OpenJobs())

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 6.2e9+0.3e6, m.Resonators[0].FRes, 20e3)
	assert.Equal(t, m.Resonators[0].FRes, m.Resonators[0].FOpt)
	assert.InDelta(t, 6.4e9-0.4e6, m.Resonators[1].FRes, 20e3)

	assert.FileExists(t, filepath.Join(plotDir, results.Run.ID+".png"))
	assert.FileExists(t, filepath.Join(plotDir, results.Run.ID+"_con1_waveforms.png"))
}

func TestRun_WithoutSaveStateLeavesStateUnchanged(t *testing.T) {
	store := copyState(t)
	loop := qop.NewLoopback()
	loop.Resonances["rr0"] = 6.2e9 + 1e6

	runner := NewRunner(Options{
		Store:      store,
		Simulator:  loop,
		Repository: memory.NewRunRepository(),
	})

	req := smallRequest()
	req.Simulate = true

	results, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, results.Run.StateSaved)
	for _, ch := range results.Channels {
		assert.False(t, ch.Applied)
	}

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.2e9, m.Resonators[0].FRes)
}

func TestRun_FailedFitLeavesResonanceUnchanged(t *testing.T) {
	store := copyState(t)
	points := 100

	flat := make([]float64, points)
	for n := range flat {
		flat[n] = 0.01
	}
	dip := make([]float64, points)
	loop := qop.NewLoopback()
	for n := range dip {
		f := 6.4e9 - 5e6 + float64(n)*0.1e6
		dip[n] = 0.05 * loop.Magnitude(f, 6.4e9+0.2e6) * 1000 / 4096
	}
	zeros := make([]float64, points)

	job := new(MockJob)
	job.On("Fetch", mock.Anything, []string{"I1", "Q1", "I2", "Q2"}).Return(qop.Results{
		"I1": flat, "Q1": flat,
		"I2": dip, "Q2": zeros,
	}, nil)
	job.On("Close", mock.Anything).Return(nil)

	svc := new(MockService)
	svc.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(job, nil)

	runner := NewRunner(Options{
		Store:      store,
		Service:    svc,
		Repository: memory.NewRunRepository(),
	})

	req := smallRequest()
	req.SaveState = true

	results, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, results.Run.Status)

	rr0 := results.Channels[0]
	assert.Equal(t, "rr0", rr0.Element)
	assert.Nil(t, rr0.FitFrequency)
	require.NotNil(t, rr0.FitReason)
	assert.False(t, rr0.Applied)

	rr1 := results.Channels[1]
	require.NotNil(t, rr1.FitFrequency)
	assert.True(t, rr1.Applied)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.2e9, m.Resonators[0].FRes)
	assert.InDelta(t, 6.4e9+0.2e6, m.Resonators[1].FRes, 20e3)

	svc.AssertExpectations(t)
	job.AssertExpectations(t)
}

func TestRun_NonFiniteSampleDoesNotAbortRun(t *testing.T) {
	store := copyState(t)
	points := 100
	loop := qop.NewLoopback()

	dipAt := func(center, f0 float64) []float64 {
		out := make([]float64, points)
		for n := range out {
			f := center - 5e6 + float64(n)*0.1e6
			out[n] = 0.05 * loop.Magnitude(f, f0) * 1000 / 4096
		}
		return out
	}
	i1 := dipAt(6.2e9, 6.2e9+0.1e6)
	i1[40] = math.NaN()
	zeros := make([]float64, points)

	job := new(MockJob)
	job.On("Fetch", mock.Anything, mock.Anything).Return(qop.Results{
		"I1": i1, "Q1": zeros,
		"I2": dipAt(6.4e9, 6.4e9+0.2e6), "Q2": zeros,
	}, nil)
	job.On("Close", mock.Anything).Return(nil)

	svc := new(MockService)
	svc.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(job, nil)

	var traces []byte
	archive := new(MockArchive)
	archive.On("Upload", mock.Anything, mock.Anything, mock.Anything, "application/json").
		Run(func(args mock.Arguments) { traces = args.Get(2).([]byte) }).
		Return(nil)
	archive.On("Upload", mock.Anything, mock.Anything, mock.Anything, "image/png").Return(nil)

	runner := NewRunner(Options{
		Store:      store,
		Service:    svc,
		Repository: memory.NewRunRepository(),
		Archive:    archive,
	})

	req := smallRequest()
	req.SaveState = true

	results, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, results.Run.Status)

	rr0 := results.Channels[0]
	assert.Len(t, rr0.FrequencyData, points-1)
	assert.Nil(t, rr0.FitFrequency)
	require.NotNil(t, rr0.FitReason)
	assert.False(t, rr0.Applied)

	rr1 := results.Channels[1]
	require.NotNil(t, rr1.FitFrequency)
	assert.True(t, rr1.Applied)

	m, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.2e9, m.Resonators[0].FRes)

	var doc struct {
		Channels map[string]struct {
			I []*float64 `json:"I"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(traces, &doc))
	assert.Nil(t, doc.Channels["rr0"].I[40])
	assert.NotNil(t, doc.Channels["rr0"].I[41])
	archive.AssertNumberOfCalls(t, "Upload", 2)
}

func TestRun_DialsStateNetworkAddress(t *testing.T) {
	var host string
	var port int
	loop := qop.NewLoopback()

	runner := NewRunner(Options{
		Store:      copyState(t),
		Repository: memory.NewRunRepository(),
		Dial: func(h string, p int) qop.Service {
			host, port = h, p
			return loop
		},
	})

	results, err := runner.Run(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.False(t, results.Run.Simulated)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 80, port)
}

func TestRun_ConfiguredServiceOverridesStateAddress(t *testing.T) {
	dialed := false
	runner := NewRunner(Options{
		Store:      copyState(t),
		Service:    qop.NewLoopback(),
		Repository: memory.NewRunRepository(),
		Dial: func(string, int) qop.Service {
			dialed = true
			return nil
		},
	})

	_, err := runner.Run(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.False(t, dialed)
}

func TestRun_NoServiceAddress(t *testing.T) {
	store := copyState(t)
	ctx := context.Background()
	m, err := store.Load(ctx)
	require.NoError(t, err)
	m.Network.QOPIP = ""
	require.NoError(t, store.Save(ctx, m))

	repo := memory.NewRunRepository()
	runner := NewRunner(Options{
		Store:      store,
		Repository: repo,
		Dial:       func(h string, p int) qop.Service { return qop.NewClient(h, p) },
	})

	_, err = runner.Run(ctx, smallRequest())
	assert.ErrorContains(t, err, "no execution service address")

	runs, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, runs[0].Status)
}

func TestRun_ExecuteErrorMarksRunFailed(t *testing.T) {
	svc := new(MockService)
	svc.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	repo := memory.NewRunRepository()
	runner := NewRunner(Options{
		Store:      copyState(t),
		Service:    svc,
		Repository: repo,
	})

	_, err := runner.Run(context.Background(), smallRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	runs, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMsg)
}

// failingRepo fails the status update carrying the given progress
type failingRepo struct {
	*memory.RunRepository
	failAt int
}

func (f *failingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	if progress == f.failAt {
		return errors.New("connection reset")
	}
	return f.RunRepository.UpdateStatus(ctx, id, status, progress)
}

func TestRun_StatusUpdateErrorMarksRunFailed(t *testing.T) {
	tests := []struct {
		name   string
		failAt int
	}{
		{"archive progress", 85},
		{"completion", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &failingRepo{RunRepository: memory.NewRunRepository(), failAt: tt.failAt}
			runner := NewRunner(Options{
				Store:      copyState(t),
				Simulator:  qop.NewLoopback(),
				Repository: repo,
				Simulation: qop.DefaultLoopback(500, 24),
			})

			req := smallRequest()
			req.Simulate = true
			_, err := runner.Run(context.Background(), req)
			assert.ErrorContains(t, err, "connection reset")

			runs, err := repo.List(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, models.StatusFailed, runs[0].Status)
			require.NotNil(t, runs[0].ErrorMsg)
		})
	}
}

func TestRun_FetchErrorStillClosesJob(t *testing.T) {
	job := new(MockJob)
	job.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	job.On("Close", mock.Anything).Return(nil)

	svc := new(MockService)
	svc.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(job, nil)

	runner := NewRunner(Options{
		Store:      copyState(t),
		Service:    svc,
		Repository: memory.NewRunRepository(),
	})

	_, err := runner.Run(context.Background(), smallRequest())
	assert.ErrorContains(t, err, "timeout")
	job.AssertCalled(t, "Close", mock.Anything)
}

func TestRun_InvalidSweep(t *testing.T) {
	runner := NewRunner(Options{
		Store:      copyState(t),
		Service:    new(MockService),
		Repository: memory.NewRunRepository(),
	})

	req := smallRequest()
	req.SweepStep = 0
	_, err := runner.Run(context.Background(), req)
	assert.Error(t, err)
}

func TestRun_ArchivesTracesAndPlot(t *testing.T) {
	archive := new(MockArchive)
	archive.On("Upload", mock.Anything, mock.MatchedBy(func(k string) bool {
		return filepath.Base(k) == "traces.json"
	}), mock.Anything, "application/json").Return(nil)
	archive.On("Upload", mock.Anything, mock.MatchedBy(func(k string) bool {
		return filepath.Base(k) == "spectroscopy.png"
	}), mock.Anything, "image/png").Return(nil)

	runner := NewRunner(Options{
		Store:      copyState(t),
		Simulator:  qop.NewLoopback(),
		Repository: memory.NewRunRepository(),
		Archive:    archive,
	})

	req := smallRequest()
	req.Simulate = true
	results, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, results.Run.ArchiveKey)
	assert.Equal(t, "runs/"+results.Run.ID+"/traces.json", *results.Run.ArchiveKey)
	archive.AssertNumberOfCalls(t, "Upload", 2)
}

func TestRun_Busy(t *testing.T) {
	runner := NewRunner(Options{
		Store:      copyState(t),
		Simulator:  qop.NewLoopback(),
		Repository: memory.NewRunRepository(),
	})

	runner.mu.Lock()
	defer runner.mu.Unlock()

	req := smallRequest()
	req.Simulate = true
	_, err := runner.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestResults_NotFound(t *testing.T) {
	runner := NewRunner(Options{Repository: memory.NewRunRepository()})
	_, err := runner.Results(context.Background(), uuid.New())
	assert.Error(t, err)
}
