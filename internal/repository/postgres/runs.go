package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RMahshie/qubitcal/internal/repository"
	"github.com/RMahshie/qubitcal/pkg/models"
	"github.com/google/uuid"
)

// PostgresRunRepository implements RunRepository for PostgreSQL
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgreSQL run repository
func NewPostgresRunRepository(db *sql.DB) repository.RunRepository {
	return &PostgresRunRepository{db: db}
}

const runColumns = `id, status, progress, simulated, n_avg, depletion_time, sweep_start, sweep_stop, sweep_step,
	archive_key, state_saved, error_message, created_at, updated_at, completed_at`

// Create inserts a new run record
func (r *PostgresRunRepository) Create(ctx context.Context, run *models.SpectroscopyRun) error {
	query := `
		INSERT INTO spectroscopy_runs (id, status, progress, simulated, n_avg, depletion_time,
			sweep_start, sweep_stop, sweep_step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.Progress,
		run.Simulated,
		run.NAvg,
		run.DepletionTime,
		run.SweepStart,
		run.SweepStop,
		run.SweepStep,
		run.CreatedAt,
		run.UpdatedAt)

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.SpectroscopyRun, error) {
	var run models.SpectroscopyRun
	var archiveKey, errorMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Progress,
		&run.Simulated,
		&run.NAvg,
		&run.DepletionTime,
		&run.SweepStart,
		&run.SweepStop,
		&run.SweepStep,
		&archiveKey,
		&run.StateSaved,
		&errorMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt)
	if err != nil {
		return nil, err
	}

	if archiveKey.Valid {
		run.ArchiveKey = &archiveKey.String
	}
	if errorMsg.Valid {
		run.ErrorMsg = &errorMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetByID retrieves a run by ID
func (r *PostgresRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SpectroscopyRun, error) {
	query := `SELECT ` + runColumns + ` FROM spectroscopy_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return run, err
}

// List retrieves the most recent runs
func (r *PostgresRunRepository) List(ctx context.Context, limit int) ([]*models.SpectroscopyRun, error) {
	query := `SELECT ` + runColumns + ` FROM spectroscopy_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.SpectroscopyRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateStatus updates the status and progress of a run
func (r *PostgresRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	query := `
		UPDATE spectroscopy_runs
		SET status = $1, progress = $2, updated_at = NOW(),
		    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $3`

	return r.exec(ctx, query, status, progress, id)
}

// UpdateError marks a run failed with a message
func (r *PostgresRunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE spectroscopy_runs
		SET status = 'failed', error_message = $1, updated_at = NOW()
		WHERE id = $2`

	return r.exec(ctx, query, errorMsg, id)
}

// SetArchiveKey records where the raw traces were archived
func (r *PostgresRunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	query := `UPDATE spectroscopy_runs SET archive_key = $1, updated_at = NOW() WHERE id = $2`
	return r.exec(ctx, query, key, id)
}

// MarkStateSaved records that fitted resonances were written back
func (r *PostgresRunRepository) MarkStateSaved(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE spectroscopy_runs SET state_saved = TRUE, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, query, id)
}

// Delete removes a run, its channel results go with it
func (r *PostgresRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM spectroscopy_runs WHERE id = $1`, id)
}

func (r *PostgresRunRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// StoreChannelResults stores the per-resonator results of a run in one transaction
func (r *PostgresRunRepository) StoreChannelResults(ctx context.Context, results []*models.ChannelResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO channel_results (id, run_id, element, readout_pulse_length, intermediate_frequency,
			resonance_before, frequency_data, fit_frequency, fit_linewidth, fit_reason, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, res := range results {
		freqData, err := json.Marshal(res.FrequencyData)
		if err != nil {
			return fmt.Errorf("failed to marshal frequency data: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			res.ID,
			res.RunID,
			res.Element,
			res.ReadoutPulseLength,
			res.IntermediateFrequency,
			res.ResonanceBefore,
			string(freqData),
			res.FitFrequency,
			res.FitLinewidth,
			res.FitReason,
			res.Applied,
			res.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to store %s results: %w", res.Element, err)
		}
	}

	return tx.Commit()
}

// GetChannelResults retrieves the channel results of a run in element order
func (r *PostgresRunRepository) GetChannelResults(ctx context.Context, runID uuid.UUID) ([]*models.ChannelResult, error) {
	query := `
		SELECT id, run_id, element, readout_pulse_length, intermediate_frequency, resonance_before,
			frequency_data, fit_frequency, fit_linewidth, fit_reason, applied, created_at
		FROM channel_results
		WHERE run_id = $1
		ORDER BY element`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.ChannelResult
	for rows.Next() {
		var res models.ChannelResult
		var freqData string
		var fitFreq, fitWidth sql.NullFloat64
		var fitReason sql.NullString

		err := rows.Scan(
			&res.ID,
			&res.RunID,
			&res.Element,
			&res.ReadoutPulseLength,
			&res.IntermediateFrequency,
			&res.ResonanceBefore,
			&freqData,
			&fitFreq,
			&fitWidth,
			&fitReason,
			&res.Applied,
			&res.CreatedAt)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(freqData), &res.FrequencyData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frequency data: %w", err)
		}
		if fitFreq.Valid {
			res.FitFrequency = &fitFreq.Float64
		}
		if fitWidth.Valid {
			res.FitLinewidth = &fitWidth.Float64
		}
		if fitReason.Valid {
			res.FitReason = &fitReason.String
		}
		results = append(results, &res)
	}

	return results, rows.Err()
}
