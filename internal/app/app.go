// Package app wires configuration into the stores, services and runner
// shared by the server and the command-line run.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/qubitcal/internal/analysis"
	"github.com/RMahshie/qubitcal/internal/config"
	"github.com/RMahshie/qubitcal/internal/experiment"
	"github.com/RMahshie/qubitcal/internal/qop"
	"github.com/RMahshie/qubitcal/internal/repository"
	"github.com/RMahshie/qubitcal/internal/repository/memory"
	"github.com/RMahshie/qubitcal/internal/repository/postgres"
	"github.com/RMahshie/qubitcal/internal/state"
	"github.com/RMahshie/qubitcal/internal/storage"
)

// App holds the wired components
type App struct {
	Store   state.Store
	Repo    repository.RunRepository
	Archive storage.Archive // nil when S3_BUCKET is empty
	Runner  *experiment.Runner
	Request experiment.Request

	db *sql.DB
}

// New wires every component from cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Request: DefaultRequest(cfg)}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		a.Repo = postgres.NewPostgresRunRepository(db)
		log.Info().Msg("Connected to database")
	} else {
		a.Repo = memory.NewRunRepository()
		log.Warn().Msg("DATABASE_URL not set, runs are kept in memory")
	}

	if cfg.AWS.S3Bucket != "" {
		archive, err := storage.NewS3Archive(ctx, storage.S3Config{
			Bucket:    cfg.AWS.S3Bucket,
			Endpoint:  cfg.AWS.S3Endpoint,
			Region:    cfg.AWS.Region,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Archive = archive
	}

	var override qop.Service
	if cfg.QOP.Host != "" {
		override = qop.NewClient(cfg.QOP.Host, cfg.QOP.Port)
	}
	a.Runner = experiment.NewRunner(experiment.Options{
		Store:   a.Store,
		Service: override,
		Dial: func(host string, port int) qop.Service {
			return qop.NewClient(host, port)
		},
		Simulator:  qop.NewLoopback(),
		Repository: a.Repo,
		Archive:    a.Archive,
		Scaler:     analysis.Scaler{Factor: cfg.Experiment.DemodFactor},
		PlotDir:    cfg.Plot.Dir,
		Simulation: qop.DefaultLoopback(cfg.QOP.SimulationDuration, cfg.QOP.SimulationLatency),
	})
	return a, nil
}

// Close releases the database connection
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DefaultRequest builds the run request from configuration
func DefaultRequest(cfg *config.Config) experiment.Request {
	return experiment.Request{
		SweepStart:    cfg.Experiment.SweepStart,
		SweepStop:     cfg.Experiment.SweepStop,
		SweepStep:     cfg.Experiment.SweepStep,
		NAvg:          cfg.Experiment.NAvg,
		DepletionTime: cfg.Experiment.DepletionTime,
		Simulate:      cfg.QOP.Simulate,
		SaveState:     cfg.State.Save,
		Sequential:    cfg.Experiment.Sequential,
	}
}

// OpenStore returns the object store when STATE_BUCKET is set and the file
// store otherwise
func OpenStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	if cfg.State.Bucket == "" {
		return state.NewFileStore(cfg.State.Path), nil
	}

	endpoint := cfg.AWS.S3Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	store, err := state.NewObjectStore(ctx, state.ObjectStoreConfig{
		Endpoint:  endpoint,
		AccessKey: cfg.AWS.AccessKeyID,
		SecretKey: cfg.AWS.SecretAccessKey,
		Bucket:    cfg.State.Bucket,
		Key:       cfg.State.Path,
		UseSSL:    secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state bucket: %w", err)
	}
	return store, nil
}
