// Package jobs holds the service's periodic background workers.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper marks overdue approved appointments as missed.
type Sweeper interface {
	SweepMissed(ctx context.Context) (int, error)
}

type MissedConfig struct {
	Interval time.Duration
}

type MissedWorker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
}

func NewMissedWorker(sweeper Sweeper, logger *slog.Logger, cfg MissedConfig) *MissedWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &MissedWorker{sweeper: sweeper, logger: logger, interval: cfg.Interval}
}

func (w *MissedWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *MissedWorker) tick(ctx context.Context) {
	n, err := w.sweeper.SweepMissed(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("missed sweep failed", "err", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("appointments marked missed", "count", n)
	}
}
