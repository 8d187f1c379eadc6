// Package runner repeats a unit of work on a fixed interval.
package runner

import (
	"context"
	"log/slog"
	"time"
)

// Runner calls Process once right away and then every Every until the
// context is done. A failing Process is logged and retried on the next tick.
type Runner struct {
	Process func(ctx context.Context) error
	Every   time.Duration
	logger  *slog.Logger
}

func NewRunner(process func(ctx context.Context) error, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		Process: process,
		Every:   interval,
		logger:  logger,
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.Process(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("periodic process failed", "error", err)
	}
}
