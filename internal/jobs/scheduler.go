// Package jobs runs periodic maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Pruner removes cart entries whose product is gone or sold.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Scheduler wraps a cron scheduler. Jobs never overlap with themselves.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
	}
}

// AddPrune schedules p on spec, each run bounded by timeout.
func (s *Scheduler) AddPrune(spec string, p Pruner, timeout time.Duration) error {
	_, err := s.cron.AddFunc(spec, func() { s.runPrune(p, timeout) })
	if err != nil {
		return fmt.Errorf("invalid cart prune schedule %q: %w", spec, err)
	}
	s.logger.Info("cart prune scheduled", zap.String("spec", spec))
	return nil
}

func (s *Scheduler) runPrune(p Pruner, timeout time.Duration) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := p.Prune(ctx)
	if err != nil {
		s.logger.Error("cart prune failed", zap.Int("removed", n), zap.Error(err))
		return
	}
	s.logger.Info("cart prune finished", zap.Int("removed", n), zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}
