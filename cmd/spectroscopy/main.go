// Command spectroscopy runs one multiplexed resonator spectroscopy with the
// configured sweep and prints the fitted resonances.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/qubitcal/internal/app"
	"github.com/RMahshie/qubitcal/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Plot.Dir == "" {
		cfg.Plot.Dir = "."
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	results, err := a.Runner.Run(ctx, a.Request)
	if err != nil {
		log.Fatal().Err(err).Msg("Spectroscopy failed")
	}

	for _, ch := range results.Channels {
		ev := log.Info().Str("element", ch.Element).Float64("before", ch.ResonanceBefore)
		if ch.FitFrequency != nil {
			ev.Float64("fit", *ch.FitFrequency).Float64("linewidth", *ch.FitLinewidth).Bool("applied", ch.Applied).Msg("Resonator")
		} else {
			ev.Str("reason", *ch.FitReason).Msg("Resonator not fitted")
		}
	}
	log.Info().Str("runID", results.Run.ID).Str("plotDir", cfg.Plot.Dir).Bool("stateSaved", results.Run.StateSaved).Msg("Done")
}
