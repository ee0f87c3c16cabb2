// Package jobs holds the background reconciliation work: the blind window
// sweep and the full stats recompute.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/stocklot-review/internal/aggregate"
	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
)

// Job names used in logs, metrics and the CLI.
const (
	JobUnblind   = "unblind"
	JobRecompute = "recompute"
)

// DefaultConcurrency bounds parallel subject recomputes.
const DefaultConcurrency = 8

var jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "review_job_runs_total",
	Help: "Background job runs by job and result.",
}, []string{"job", "result"})

// Recomputer rebuilds per-subject stats and marketplace means.
type Recomputer interface {
	Prepare(ctx context.Context, subjectID string, direction domain.Direction) (aggregate.Inputs, error)
	Recompute(ctx context.Context, repos repository.Repositories, subjectID string, direction domain.Direction, in aggregate.Inputs, now time.Time) (*aggregate.Result, error)
	RefreshMean(ctx context.Context, repos repository.Repositories, direction domain.Direction, now time.Time) (domain.MarketplaceMean, error)
}

// Config tunes the reconciler.
type Config struct {
	Concurrency int
	Clock       func() time.Time
}

// RecomputeSummary reports what a full recompute did.
type RecomputeSummary struct {
	Means      map[domain.Direction]domain.MarketplaceMean `json:"means"`
	Subjects   map[domain.Direction]int                    `json:"subjects"`
	Failed     int                                         `json:"failed"`
	StartedAt  time.Time                                   `json:"started_at"`
	DurationMS int64                                       `json:"duration_ms"`
}

// Reconciler repairs state that interactive writes leave to eventual
// consistency.
type Reconciler struct {
	store      repository.Store
	recomputer Recomputer
	cfg        Config
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. A non-positive concurrency uses
// DefaultConcurrency and a nil clock uses time.Now.
func NewReconciler(store repository.Store, recomputer Recomputer, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Reconciler{store: store, recomputer: recomputer, cfg: cfg, logger: logger}
}

// UnblindExpired clears the blind window of approved reviews whose window
// has ended. Running it again changes nothing.
func (r *Reconciler) UnblindExpired(ctx context.Context) (int64, error) {
	now := r.cfg.Clock().UTC()
	n, err := r.store.Repositories().Reviews.UnblindExpired(ctx, now)
	if err != nil {
		jobRunsTotal.WithLabelValues(JobUnblind, "error").Inc()
		return 0, fmt.Errorf("unblind expired reviews: %w", err)
	}
	jobRunsTotal.WithLabelValues(JobUnblind, "ok").Inc()

	if n > 0 {
		r.logger.InfoContext(ctx, "expired blind windows cleared", slog.Int64("reviews", n))
	}
	return n, nil
}

// RecomputeAll refreshes both marketplace means and then rebuilds the stats
// of every subject that has a review or a stats row. A failing subject does
// not stop the others; the failures are joined into the returned error.
func (r *Reconciler) RecomputeAll(ctx context.Context) (*RecomputeSummary, error) {
	start := r.cfg.Clock().UTC()
	summary := &RecomputeSummary{
		Means:     make(map[domain.Direction]domain.MarketplaceMean, len(domain.Directions)),
		Subjects:  make(map[domain.Direction]int, len(domain.Directions)),
		StartedAt: start,
	}
	repos := r.store.Repositories()

	for _, dir := range domain.Directions {
		mean, err := r.recomputer.RefreshMean(ctx, repos, dir, start)
		if err != nil {
			jobRunsTotal.WithLabelValues(JobRecompute, "error").Inc()
			return nil, fmt.Errorf("refresh %s mean: %w", dir, err)
		}
		summary.Means[dir] = mean
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, dir := range domain.Directions {
		subjects, err := r.subjects(ctx, repos, dir)
		if err != nil {
			jobRunsTotal.WithLabelValues(JobRecompute, "error").Inc()
			return nil, err
		}
		summary.Subjects[dir] = len(subjects)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, subject := range subjects {
			g.Go(func() error {
				in, err := r.recomputer.Prepare(gctx, subject, dir)
				if err == nil {
					err = r.store.WithinTx(gctx, func(tx repository.Repositories) error {
						_, err := r.recomputer.Recompute(gctx, tx, subject, dir, in, start)
						return err
					})
				}
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					r.logger.WarnContext(ctx, "subject recompute failed",
						slog.String("subject_id", subject),
						slog.String("direction", string(dir)),
						slog.String("error", err.Error()),
					)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s %s: %w", dir, subject, err))
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			jobRunsTotal.WithLabelValues(JobRecompute, "error").Inc()
			return nil, fmt.Errorf("recompute %s subjects: %w", dir, err)
		}
	}

	summary.Failed = len(errs)
	summary.DurationMS = max(r.cfg.Clock().Sub(start).Milliseconds(), 0)

	result := "ok"
	if len(errs) > 0 {
		result = "partial"
	}
	jobRunsTotal.WithLabelValues(JobRecompute, result).Inc()

	r.logger.InfoContext(ctx, "full recompute finished",
		slog.Int("sellers", summary.Subjects[domain.DirectionBuyerOnSeller]),
		slog.Int("buyers", summary.Subjects[domain.DirectionSellerOnBuyer]),
		slog.Int("failed", summary.Failed),
		slog.Int64("duration_ms", summary.DurationMS),
	)

	if len(errs) > 0 {
		return summary, fmt.Errorf("recompute: %d subjects failed: %w", len(errs), errors.Join(errs...))
	}
	return summary, nil
}

// subjects returns the sorted union of reviewed subjects and subjects with
// a stats row, so rows whose reviews were all deleted are reset too.
func (r *Reconciler) subjects(ctx context.Context, repos repository.Repositories, dir domain.Direction) ([]string, error) {
	reviewed, err := repos.Reviews.ListSubjects(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s review subjects: %w", dir, err)
	}
	withStats, err := repos.Stats.ListStatsSubjects(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s stats subjects: %w", dir, err)
	}
	return mergeSorted(reviewed, withStats), nil
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
