package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// MeanSource names the branch a marketplace mean was resolved from.
type MeanSource string

const (
	MeanSourceCache    MeanSource = "cache"
	MeanSourceStored   MeanSource = "stored"
	MeanSourceComputed MeanSource = "computed"
	MeanSourceDefault  MeanSource = "default"
)

// MeanCache is a best-effort cache of marketplace means. Get reports a miss
// with an error matching apperrors.ErrNotFound.
type MeanCache interface {
	Get(ctx context.Context, direction domain.Direction) (*domain.MarketplaceMean, error)
	Set(ctx context.Context, mean *domain.MarketplaceMean) error
}

// MeanConfig controls how marketplace means are derived.
type MeanConfig struct {
	Default    float64
	Lookback   time.Duration
	StaleAfter time.Duration
}

// DefaultMeanConfig returns a 4.3 prior over a 90 day lookback, stored
// values trusted for an hour.
func DefaultMeanConfig() MeanConfig {
	return MeanConfig{
		Default:    4.3,
		Lookback:   90 * 24 * time.Hour,
		StaleAfter: time.Hour,
	}
}

// MeanResolver finds the marketplace mean of a direction.
type MeanResolver struct {
	cache  MeanCache
	cfg    MeanConfig
	group  singleflight.Group
	logger *slog.Logger
}

// NewMeanResolver creates a resolver. cache may be nil.
func NewMeanResolver(cache MeanCache, cfg MeanConfig, logger *slog.Logger) *MeanResolver {
	return &MeanResolver{cache: cache, cfg: cfg, logger: logger}
}

// Resolve walks cache, stored record, fresh computation and finally the
// configured default. It never fails: read errors fall through to the
// default. Only committed means (the stored record) are written back to the
// cache.
func (r *MeanResolver) Resolve(ctx context.Context, repos repository.Repositories, direction domain.Direction, now time.Time) (domain.MarketplaceMean, MeanSource) {
	if r.cache != nil {
		m, err := r.cache.Get(ctx, direction)
		switch {
		case err == nil:
			return *m, MeanSourceCache
		case !errors.Is(err, apperrors.ErrNotFound):
			r.logger.WarnContext(ctx, "marketplace mean cache read failed",
				slog.String("direction", string(direction)),
				slog.String("error", err.Error()),
			)
		}
	}

	stored, err := repos.Stats.GetMean(ctx, direction)
	switch {
	case err == nil && now.Sub(stored.ComputedAt) <= r.cfg.StaleAfter:
		r.warm(ctx, stored)
		return *stored, MeanSourceStored
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		r.logger.WarnContext(ctx, "stored marketplace mean read failed",
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		return r.fallback(direction, now), MeanSourceDefault
	}

	// repos may be a transaction that later rolls back, so a computed mean
	// stays private to this call.
	m, err := r.compute(ctx, repos, direction, now)
	if err != nil {
		r.logger.WarnContext(ctx, "marketplace mean computation failed",
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		return r.fallback(direction, now), MeanSourceDefault
	}
	if m.SampleSize == 0 {
		return m, MeanSourceDefault
	}
	return m, MeanSourceComputed
}

// Refresh recomputes the mean of a direction, persists it and refreshes the
// cache. Concurrent refreshes of one direction share a single computation.
func (r *MeanResolver) Refresh(ctx context.Context, repos repository.Repositories, direction domain.Direction, now time.Time) (domain.MarketplaceMean, error) {
	v, err, _ := r.group.Do("refresh:"+string(direction), func() (any, error) {
		m, err := r.compute(ctx, repos, direction, now)
		if err != nil {
			return nil, err
		}
		if err := repos.Stats.UpsertMean(ctx, &m); err != nil {
			return nil, fmt.Errorf("persist marketplace mean: %w", err)
		}
		r.warm(ctx, &m)
		return m, nil
	})
	if err != nil {
		return domain.MarketplaceMean{}, err
	}

	m := v.(domain.MarketplaceMean)
	r.logger.InfoContext(ctx, "marketplace mean refreshed",
		slog.String("direction", string(direction)),
		slog.Float64("value", m.Value),
		slog.Int("sample_size", m.SampleSize),
	)
	return m, nil
}

func (r *MeanResolver) compute(ctx context.Context, repos repository.Repositories, direction domain.Direction, now time.Time) (domain.MarketplaceMean, error) {
	sum, err := repos.Reviews.SummarizeApprovedSince(ctx, direction, now.Add(-r.cfg.Lookback))
	if err != nil {
		return domain.MarketplaceMean{}, fmt.Errorf("summarize approved reviews: %w", err)
	}
	if sum.Count == 0 {
		return r.fallback(direction, now), nil
	}
	return domain.MarketplaceMean{
		Direction:  direction,
		Value:      sum.Mean,
		SampleSize: sum.Count,
		ComputedAt: now.UTC(),
	}, nil
}

func (r *MeanResolver) fallback(direction domain.Direction, now time.Time) domain.MarketplaceMean {
	return domain.MarketplaceMean{Direction: direction, Value: r.cfg.Default, ComputedAt: now.UTC()}
}

func (r *MeanResolver) warm(ctx context.Context, m *domain.MarketplaceMean) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, m); err != nil {
		r.logger.WarnContext(ctx, "marketplace mean cache write failed",
			slog.String("direction", string(m.Direction)),
			slog.String("error", err.Error()),
		)
	}
}
