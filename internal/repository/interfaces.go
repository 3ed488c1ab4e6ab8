package repository

import (
	"context"
	"errors"

	"github.com/RMahshie/qubitcal/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// RunRepository defines the interface for spectroscopy run data operations
type RunRepository interface {
	Create(ctx context.Context, run *models.SpectroscopyRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SpectroscopyRun, error)
	List(ctx context.Context, limit int) ([]*models.SpectroscopyRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error
	UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
	MarkStateSaved(ctx context.Context, id uuid.UUID) error
	StoreChannelResults(ctx context.Context, results []*models.ChannelResult) error
	GetChannelResults(ctx context.Context, runID uuid.UUID) ([]*models.ChannelResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
