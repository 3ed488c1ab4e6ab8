package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/qubitcal/internal/experiment"
	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/repository"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/internal/storage"
	"github.com/RMahshie/qubitcal/internal/sweep"
	"github.com/RMahshie/qubitcal/pkg/models"
)

// Runner starts spectroscopy runs
type Runner interface {
	Run(ctx context.Context, req experiment.Request) (*models.RunResults, error)
}

// SpectroscopyHandler handles state, configuration and run requests
type SpectroscopyHandler struct {
	runner   Runner
	repo     repository.RunRepository
	store    state.Store
	archive  storage.Archive
	defaults experiment.Request
}

// NewSpectroscopyHandler creates a new spectroscopy handler. archive may be nil.
func NewSpectroscopyHandler(runner Runner, repo repository.RunRepository, store state.Store, archive storage.Archive, defaults experiment.Request) *SpectroscopyHandler {
	return &SpectroscopyHandler{
		runner:   runner,
		repo:     repo,
		store:    store,
		archive:  archive,
		defaults: defaults,
	}
}

// GetState returns the stored machine state
func (h *SpectroscopyHandler) GetState(ctx context.Context, _ *struct{}) (*models.GetStateResponse, error) {
	m, err := h.store.Load(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load state", err)
	}
	return &models.GetStateResponse{Body: m}, nil
}

// GetConfig returns the controller configuration built from the stored state
func (h *SpectroscopyHandler) GetConfig(ctx context.Context, _ *struct{}) (*models.GetConfigResponse, error) {
	m, err := h.store.Load(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load state", err)
	}
	cfg, err := hwconfig.Build(m)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("State does not produce a valid configuration", err)
	}
	return &models.GetConfigResponse{Body: cfg}, nil
}

// StartSpectroscopy runs resonator spectroscopy and returns the finished run
func (h *SpectroscopyHandler) StartSpectroscopy(ctx context.Context, req *models.StartSpectroscopyRequest) (*models.StartSpectroscopyResponse, error) {
	r := h.request(req)
	log.Info().
		Bool("simulate", r.Simulate).
		Int("nAvg", r.NAvg).
		Float64("sweepStart", r.SweepStart).
		Float64("sweepStop", r.SweepStop).
		Float64("sweepStep", r.SweepStep).
		Msg("Spectroscopy requested")

	results, err := h.runner.Run(ctx, r)
	switch {
	case errors.Is(err, experiment.ErrBusy):
		return nil, huma.Error409Conflict("A spectroscopy run is already in progress", err)
	case errors.Is(err, sweep.ErrInvalidRange):
		return nil, huma.Error400BadRequest("Invalid sweep range", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("Spectroscopy run failed", err)
	}

	return &models.StartSpectroscopyResponse{Body: *results}, nil
}

// request overlays the request body on the configured defaults
func (h *SpectroscopyHandler) request(req *models.StartSpectroscopyRequest) experiment.Request {
	r := h.defaults
	b := req.Body
	if b.Simulate != nil {
		r.Simulate = *b.Simulate
	}
	if b.SaveState != nil {
		r.SaveState = *b.SaveState
	}
	if b.NAvg > 0 {
		r.NAvg = b.NAvg
	}
	if b.DepletionTime != nil {
		r.DepletionTime = *b.DepletionTime
	}
	if b.Sequential != nil {
		r.Sequential = *b.Sequential
	}
	if b.SweepStart != nil {
		r.SweepStart = *b.SweepStart
	}
	if b.SweepStop != nil {
		r.SweepStop = *b.SweepStop
	}
	if b.SweepStep != nil {
		r.SweepStep = *b.SweepStep
	}
	return r
}

// ListRuns returns the most recent runs
func (h *SpectroscopyHandler) ListRuns(ctx context.Context, req *models.ListRunsRequest) (*models.ListRunsResponse, error) {
	runs, err := h.repo.List(ctx, req.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list runs", err)
	}
	resp := &models.ListRunsResponse{}
	resp.Body.Runs = runs
	return resp, nil
}

// GetRun returns the status of a run
func (h *SpectroscopyHandler) GetRun(ctx context.Context, req *models.GetRunRequest) (*models.GetRunResponse, error) {
	run, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &models.GetRunResponse{Body: run}, nil
}

// GetRunResults returns a completed run with its channel results
func (h *SpectroscopyHandler) GetRunResults(ctx context.Context, req *models.GetRunRequest) (*models.GetRunResultsResponse, error) {
	run, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.StatusCompleted {
		return nil, huma.Error409Conflict("Run not yet completed",
			fmt.Errorf("run status is %s", run.Status))
	}

	channels, err := h.repo.GetChannelResults(ctx, uuid.MustParse(run.ID))
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get run results", err)
	}

	return &models.GetRunResultsResponse{Body: models.RunResults{Run: run, Channels: channels}}, nil
}

// GetArchiveURL returns a download link for the archived traces of a run
func (h *SpectroscopyHandler) GetArchiveURL(ctx context.Context, req *models.GetRunRequest) (*models.GetArchiveURLResponse, error) {
	if h.archive == nil {
		return nil, huma.Error404NotFound("Archive not configured")
	}
	run, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.ArchiveKey == nil {
		return nil, huma.Error404NotFound("Run has no archived data")
	}

	url, err := h.archive.GenerateDownloadURL(ctx, *run.ArchiveKey)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate download URL", err)
	}

	resp := &models.GetArchiveURLResponse{}
	resp.Body.Key = *run.ArchiveKey
	resp.Body.URL = url
	resp.Body.ExpiresIn = int((24 * time.Hour).Seconds())
	return resp, nil
}

// GetTraces streams the archived raw traces of a run
func (h *SpectroscopyHandler) GetTraces(ctx context.Context, req *models.GetRunRequest) (*models.GetTracesResponse, error) {
	if h.archive == nil {
		return nil, huma.Error404NotFound("Archive not configured")
	}
	run, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.ArchiveKey == nil {
		return nil, huma.Error404NotFound("Run has no archived data")
	}

	data, err := h.archive.DownloadFile(ctx, *run.ArchiveKey)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to download traces", err)
	}
	return &models.GetTracesResponse{ContentType: storage.ContentTypeJSON, Body: data}, nil
}

// DeleteRun removes a finished run, its results and its archived objects
func (h *SpectroscopyHandler) DeleteRun(ctx context.Context, req *models.GetRunRequest) (*struct{}, error) {
	run, err := h.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.StatusPending || run.Status == models.StatusRunning {
		return nil, huma.Error409Conflict("Run is still in progress",
			fmt.Errorf("run status is %s", run.Status))
	}

	if h.archive != nil && run.ArchiveKey != nil {
		keys := []string{*run.ArchiveKey, storage.RunKey(run.ID, experiment.PlotObject)}
		for _, key := range keys {
			if err := h.archive.DeleteFile(ctx, key); err != nil {
				return nil, huma.Error500InternalServerError("Failed to delete archived data", err)
			}
		}
	}

	err = h.repo.Delete(ctx, uuid.MustParse(run.ID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, huma.Error404NotFound("Run not found", err)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete run", err)
	}

	log.Info().Str("runId", run.ID).Msg("Run deleted")
	return &struct{}{}, nil
}

func (h *SpectroscopyHandler) lookup(ctx context.Context, id string) (*models.SpectroscopyRun, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid run ID", err)
	}
	run, err := h.repo.GetByID(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, huma.Error404NotFound("Run not found", err)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get run", err)
	}
	return run, nil
}
