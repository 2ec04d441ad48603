// Package scheduler drives repeated evaluation cycles for watch mode.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opscart/k8s-auto-healer/pkg/log"
)

// Scheduler runs one function on a fixed interval. Overlapping runs are
// tolerated: cross-cycle state lives on the workload objects and concurrent
// invocations resolve through the version check on write.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	run      func(ctx context.Context)
}

func New(interval time.Duration, run func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		interval: interval,
		run:      run,
	}
}

// Start schedules the recurring run and fires the first one immediately,
// so a fresh deployment heals without waiting out the first interval.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cycle: %w", err)
	}

	logger := log.WithComponent("scheduler")
	logger.Info().
		Str("interval", s.interval.String()).
		Msg("starting scheduler")
	s.cron.Start()

	s.run(ctx)
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish
func (s *Scheduler) Stop() {
	logger := log.WithComponent("scheduler")
	logger.Info().Msg("stopping scheduler")
	<-s.cron.Stop().Done()
}
