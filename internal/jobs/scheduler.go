package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner is the work a Scheduler triggers.
type Runner interface {
	UnblindExpired(ctx context.Context) (int64, error)
	RecomputeAll(ctx context.Context) (*RecomputeSummary, error)
}

// Scheduler runs the reconciliation jobs on tickers. A zero interval
// disables that job.
type Scheduler struct {
	runner         Runner
	unblindEvery   time.Duration
	recomputeEvery time.Duration
	logger         *slog.Logger
	wg             sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(runner Runner, unblindEvery, recomputeEvery time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:         runner,
		unblindEvery:   unblindEvery,
		recomputeEvery: recomputeEvery,
		logger:         logger,
	}
}

// Start launches the job loops. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.unblindEvery > 0 {
		s.loop(ctx, JobUnblind, s.unblindEvery, func(ctx context.Context) error {
			_, err := s.runner.UnblindExpired(ctx)
			return err
		})
	}
	if s.recomputeEvery > 0 {
		s.loop(ctx, JobRecompute, s.recomputeEvery, func(ctx context.Context) error {
			_, err := s.runner.RecomputeAll(ctx)
			return err
		})
	}
	s.logger.Info("job scheduler started",
		slog.Duration("unblind_every", s.unblindEvery),
		slog.Duration("recompute_every", s.recomputeEvery),
	)
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job string, every time.Duration, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("scheduled job failed",
						slog.String("job", job),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}
