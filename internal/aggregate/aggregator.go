// Package aggregate maintains the per-subject rating aggregates and the
// marketplace means they are smoothed towards.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/reliability"
	"github.com/utafrali/stocklot-review/internal/repository"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// DefaultConfidence is the number of pseudo-ratings at the marketplace mean
// added to every subject.
const DefaultConfidence = 20.0

var recomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rating_recompute_duration_seconds",
	Help:    "Duration of a subject rating recompute.",
	Buckets: prometheus.DefBuckets,
}, []string{"direction"})

// ReliabilityScorer loads the order-history signals of a buyer.
type ReliabilityScorer interface {
	Signals(ctx context.Context, buyerID string) (reliability.Signals, error)
}

// Inputs is what a recompute needs from other services. Prepare fills it
// before a transaction opens so no row lock is held across a remote call.
type Inputs struct {
	Buyer *reliability.Signals
}

// Result describes one recompute.
type Result struct {
	SubjectID   string
	Direction   domain.Direction
	Count       int
	Raw         float64
	Bayes       float64
	Mean        domain.MarketplaceMean
	MeanSource  MeanSource
	Reliability *reliability.Breakdown
}

// Aggregator rebuilds subject stats from their APPROVED reviews.
type Aggregator struct {
	means      *MeanResolver
	scorer     ReliabilityScorer
	confidence float64
	logger     *slog.Logger
}

// NewAggregator creates an Aggregator. A non-positive confidence falls back
// to DefaultConfidence.
func NewAggregator(means *MeanResolver, scorer ReliabilityScorer, confidence float64, logger *slog.Logger) *Aggregator {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &Aggregator{means: means, scorer: scorer, confidence: confidence, logger: logger}
}

// Prepare loads the remote inputs of a recompute of subjectID. Sellers need
// none.
func (a *Aggregator) Prepare(ctx context.Context, subjectID string, direction domain.Direction) (Inputs, error) {
	if direction != domain.DirectionSellerOnBuyer {
		return Inputs{}, nil
	}
	sig, err := a.scorer.Signals(ctx, subjectID)
	if err != nil {
		return Inputs{}, fmt.Errorf("load buyer reliability signals: %w", err)
	}
	return Inputs{Buyer: &sig}, nil
}

// Recompute rebuilds the stats of subjectID in direction using repos as of
// now. It only touches the database. The stats row is replaced wholesale.
func (a *Aggregator) Recompute(ctx context.Context, repos repository.Repositories, subjectID string, direction domain.Direction, in Inputs, now time.Time) (*Result, error) {
	if !direction.Valid() {
		return nil, apperrors.Validation("direction", "must be BUYER_ON_SELLER or SELLER_ON_BUYER")
	}
	if direction == domain.DirectionSellerOnBuyer && in.Buyer == nil {
		return nil, fmt.Errorf("recompute buyer %s: reliability signals not loaded", subjectID)
	}

	start := time.Now()
	defer func() {
		recomputeDuration.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())
	}()

	reviews, err := repos.Reviews.ListApprovedForSubject(ctx, subjectID, direction)
	if err != nil {
		return nil, fmt.Errorf("list approved reviews: %w", err)
	}

	res := &Result{SubjectID: subjectID, Direction: direction, Count: len(reviews)}
	hist, raw, last := summarize(reviews)
	res.Raw = raw
	if res.Count > 0 {
		res.Mean, res.MeanSource = a.means.Resolve(ctx, repos, direction, now)
		res.Bayes = Bayesian(a.confidence, res.Mean.Value, raw, res.Count)
	}

	switch direction {
	case domain.DirectionBuyerOnSeller:
		err = repos.Stats.UpsertSellerStats(ctx, &domain.SellerRatingStats{
			SellerID:       subjectID,
			AvgRatingBayes: res.Bayes,
			AvgRatingRaw:   res.Raw,
			RatingsCount:   res.Count,
			Histogram:      hist,
			LastReviewAt:   last,
		})
	case domain.DirectionSellerOnBuyer:
		b := in.Buyer.Breakdown(res.Bayes)
		res.Reliability = &b
		err = repos.Stats.UpsertBuyerStats(ctx, &domain.BuyerRatingStats{
			BuyerID:          subjectID,
			AvgRatingBayes:   res.Bayes,
			AvgRatingRaw:     res.Raw,
			RatingsCount:     res.Count,
			ReliabilityScore: b.Score,
			LastReviewAt:     last,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("upsert %s stats: %w", direction, err)
	}

	a.logger.DebugContext(ctx, "subject rating recomputed",
		slog.String("subject_id", subjectID),
		slog.String("direction", string(direction)),
		slog.Int("count", res.Count),
		slog.Float64("bayes", res.Bayes),
		slog.String("mean_source", string(res.MeanSource)),
	)
	return res, nil
}

// RefreshMean forces a recomputation of the marketplace mean of direction.
func (a *Aggregator) RefreshMean(ctx context.Context, repos repository.Repositories, direction domain.Direction, now time.Time) (domain.MarketplaceMean, error) {
	return a.means.Refresh(ctx, repos, direction, now)
}

// Bayesian smooths raw towards mean with confidence pseudo-ratings. It
// returns 0 when there are no ratings.
func Bayesian(confidence, mean, raw float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return (confidence*mean + float64(n)*raw) / (confidence + float64(n))
}

func summarize(reviews []domain.Review) (hist [5]int, raw float64, last *time.Time) {
	if len(reviews) == 0 {
		return hist, 0, nil
	}
	sum := 0
	var latest time.Time
	for i := range reviews {
		r := &reviews[i]
		sum += r.Rating
		if r.Rating >= domain.MinRating && r.Rating <= domain.MaxRating {
			hist[r.Rating-1]++
		}
		if r.CreatedAt.After(latest) {
			latest = r.CreatedAt
		}
	}
	return hist, float64(sum) / float64(len(reviews)), &latest
}
