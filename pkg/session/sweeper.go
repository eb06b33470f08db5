package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper runs the registry's idle sweep on a cron schedule in the
// background, never inline with requests.
type Sweeper struct {
	registry *Registry
	schedule string
	maxIdle  time.Duration
	cron     *cron.Cron
}

// NewSweeper builds a sweeper. schedule is a cron expression (or a
// descriptor like "@hourly"); maxIdle is the eviction threshold.
func NewSweeper(registry *Registry, schedule string, maxIdle time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		schedule: schedule,
		maxIdle:  maxIdle,
	}
}

// Start schedules the sweep and returns once the scheduler is running.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		s.registry.Sweep(ctx, s.maxIdle)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c

	log.Info().
		Str("schedule", s.schedule).
		Dur("max_idle", s.maxIdle).
		Msg("Session sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	log.Info().Msg("Session sweeper stopped")
}
