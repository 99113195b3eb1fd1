package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rosterd/rosterd/pkg/observability"
)

const sweepBatchSize = 500

// Sweeper periodically reconciles lazily-expired assignments. The read path
// already treats expired rows as inactive; the sweeper only settles the
// stored state and emits the expire audit entries.
type Sweeper struct {
	service  *Service
	schedule string
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewSweeper creates a sweeper on the given cron schedule, such as "@hourly".
func NewSweeper(service *Service, schedule string, logger *observability.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		schedule: schedule,
		logger:   logger.WithField("component", "sweeper"),
	}
}

// Start validates the schedule and begins sweeping. One sweep runs
// immediately so a long downtime backlog is settled without waiting for the
// next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		defer observability.RecoverPanic(s.logger, "expiry sweep")
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.schedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.WithField("schedule", s.schedule).Info("expiry sweeper started")

	go func() {
		defer observability.RecoverPanic(s.logger, "expiry sweep")
		s.sweep(ctx)
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	total := 0
	for {
		swept, err := s.service.SweepExpired(ctx, sweepBatchSize)
		if err != nil {
			s.logger.WithError(err).Error("expiry sweep failed")
			return
		}
		total += swept
		if swept < sweepBatchSize {
			break
		}
	}
	if total > 0 {
		s.logger.WithFields(map[string]interface{}{
			"swept":       total,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("expired assignments reconciled")
	}
}
