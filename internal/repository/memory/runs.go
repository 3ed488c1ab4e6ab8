// Package memory keeps run records in process memory for setups without a
// database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RMahshie/qubitcal/internal/repository"
	"github.com/RMahshie/qubitcal/pkg/models"
	"github.com/google/uuid"
)

// RunRepository implements repository.RunRepository in memory
type RunRepository struct {
	mu      sync.RWMutex
	runs    map[string]*models.SpectroscopyRun
	results map[string][]*models.ChannelResult
}

// NewRunRepository creates an empty in-memory repository
func NewRunRepository() *RunRepository {
	return &RunRepository{
		runs:    make(map[string]*models.SpectroscopyRun),
		results: make(map[string][]*models.ChannelResult),
	}
}

var _ repository.RunRepository = (*RunRepository)(nil)

func (r *RunRepository) Create(ctx context.Context, run *models.SpectroscopyRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SpectroscopyRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id.String()]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.SpectroscopyRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*models.SpectroscopyRun, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *RunRepository) update(id uuid.UUID, fn func(*models.SpectroscopyRun)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id.String()]
	if !ok {
		return repository.ErrNotFound
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	return r.update(id, func(run *models.SpectroscopyRun) {
		run.Status = status
		run.Progress = progress
		if status == models.StatusCompleted {
			now := time.Now()
			run.CompletedAt = &now
		}
	})
}

func (r *RunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.update(id, func(run *models.SpectroscopyRun) {
		run.Status = models.StatusFailed
		run.ErrorMsg = &errorMsg
	})
}

func (r *RunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(id, func(run *models.SpectroscopyRun) {
		run.ArchiveKey = &key
	})
}

func (r *RunRepository) MarkStateSaved(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(run *models.SpectroscopyRun) {
		run.StateSaved = true
	})
}

func (r *RunRepository) StoreChannelResults(ctx context.Context, results []*models.ChannelResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		if _, ok := r.runs[res.RunID]; !ok {
			return repository.ErrNotFound
		}
	}
	for _, res := range results {
		cp := *res
		r.results[res.RunID] = append(r.results[res.RunID], &cp)
	}
	return nil
}

func (r *RunRepository) GetChannelResults(ctx context.Context, runID uuid.UUID) ([]*models.ChannelResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.results[runID.String()]
	out := make([]*models.ChannelResult, len(stored))
	for i, res := range stored {
		cp := *res
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Element < out[j].Element })
	return out, nil
}

func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id.String()]; !ok {
		return repository.ErrNotFound
	}
	delete(r.runs, id.String())
	delete(r.results, id.String())
	return nil
}
