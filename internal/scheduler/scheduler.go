// Package scheduler runs payout generation on a timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// PayoutGenerator is the batch the admin endpoint also triggers.
type PayoutGenerator interface {
	GeneratePayoutsForPeriod(ctx context.Context, actor application.Actor, start, end time.Time) (*application.GeneratePayoutsResult, error)
}

// Scheduler periodically settles the last LookbackDays whole UTC days. Bookings are only
// ever claimed once, so overlapping windows and missed ticks are both safe.
type Scheduler struct {
	generator PayoutGenerator
	cfg       Config
	clock     clock.Clock
	log       *zap.Logger
}

// New creates a Scheduler.
func New(generator PayoutGenerator, cfg Config, clk clock.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		generator: generator,
		cfg:       cfg.withDefaults(),
		clock:     clk,
		log:       logger.Named("scheduler").With(zap.String("job", "generate_payouts")),
	}
}

// Window returns the period the next run covers: [today - LookbackDays, today) in UTC.
func (s *Scheduler) Window() (time.Time, time.Time) {
	now := s.clock.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -s.cfg.LookbackDays), end
}

// RunOnce generates payouts for the current window. A run already in progress elsewhere
// is not an error.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	start, end := s.Window()
	result, err := s.generator.GeneratePayoutsForPeriod(ctx, application.SystemActor, start, end)
	if err != nil {
		if domain.IsConflict(err) {
			s.log.Info("payout run skipped, another run holds the lock")
			return nil
		}
		s.log.Error("payout run failed", zap.Time("start", start), zap.Time("end", end), zap.Error(err))
		return err
	}

	s.log.Info("payout run completed",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("generated", result.Generated),
		zap.Int("failed", result.Failed),
		zap.Int64("total_amount", result.TotalAmount),
	)
	return nil
}

// RunForever runs immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		_ = s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Start launches RunForever in the background. The returned function stops it and waits
// for an in-flight run to finish.
func (s *Scheduler) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunForever(ctx)
	}()
	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.RunInterval))
	return func() {
		cancel()
		wg.Wait()
	}
}
