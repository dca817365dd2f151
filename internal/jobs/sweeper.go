// Package jobs contains scheduled background work for the fulfillment service.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StrandedReleaser releases active reservations whose orders already failed payment.
type StrandedReleaser interface {
	ReleaseStranded(ctx context.Context) (int64, error)
}

// Sweeper periodically returns stranded reservations to the free pool.
type Sweeper struct {
	cron     *cron.Cron
	store    StrandedReleaser
	schedule string
	logger   *slog.Logger
}

func NewSweeper(store StrandedReleaser, schedule string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		store:    store,
		schedule: schedule,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start registers the sweep on the configured schedule and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Sweeper started", "schedule", s.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	released, err := s.store.ReleaseStranded(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		return
	}
	if released > 0 {
		s.logger.Info("Released stranded reservations", "count", released)
	}
}
