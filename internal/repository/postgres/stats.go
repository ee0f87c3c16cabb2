package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/pkg/database"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// StatsRepository persists rating aggregates and marketplace means.
type StatsRepository struct {
	pool database.DBTX
}

// NewStatsRepository creates a new PostgreSQL-backed stats repository.
func NewStatsRepository(pool database.DBTX) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// GetSellerStats returns the stored stats of a seller.
func (r *StatsRepository) GetSellerStats(ctx context.Context, sellerID string) (_ *domain.SellerRatingStats, err error) {
	query := `
		SELECT seller_id, avg_rating_bayes, avg_rating_raw, ratings_count, histogram, last_review_at
		FROM seller_rating_stats
		WHERE seller_id = $1`

	ctx, end := database.TraceQuery(ctx, "stats.GetSellerStats", query)
	defer func() { end(err) }()

	var (
		s         domain.SellerRatingStats
		histogram []int32
	)
	err = r.pool.QueryRow(ctx, query, sellerID).Scan(
		&s.SellerID, &s.AvgRatingBayes, &s.AvgRatingRaw, &s.RatingsCount, &histogram, &s.LastReviewAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("seller_rating_stats", sellerID)
		}
		return nil, fmt.Errorf("get seller stats: %w", err)
	}
	for i := 0; i < len(s.Histogram) && i < len(histogram); i++ {
		s.Histogram[i] = int(histogram[i])
	}
	if s.LastReviewAt != nil {
		t := s.LastReviewAt.UTC()
		s.LastReviewAt = &t
	}
	return &s, nil
}

// UpsertSellerStats replaces the stats row of a seller.
func (r *StatsRepository) UpsertSellerStats(ctx context.Context, s *domain.SellerRatingStats) (err error) {
	query := `
		INSERT INTO seller_rating_stats (seller_id, avg_rating_bayes, avg_rating_raw, ratings_count, histogram, last_review_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (seller_id) DO UPDATE
		SET avg_rating_bayes = EXCLUDED.avg_rating_bayes,
		    avg_rating_raw   = EXCLUDED.avg_rating_raw,
		    ratings_count    = EXCLUDED.ratings_count,
		    histogram        = EXCLUDED.histogram,
		    last_review_at   = EXCLUDED.last_review_at`

	ctx, end := database.TraceQuery(ctx, "stats.UpsertSellerStats", query)
	defer func() { end(err) }()

	histogram := make([]int32, len(s.Histogram))
	for i, c := range s.Histogram {
		histogram[i] = int32(c)
	}

	if _, err = r.pool.Exec(ctx, query,
		s.SellerID, s.AvgRatingBayes, s.AvgRatingRaw, s.RatingsCount, histogram, s.LastReviewAt,
	); err != nil {
		return fmt.Errorf("upsert seller stats: %w", err)
	}
	return nil
}

// GetBuyerStats returns the stored stats of a buyer.
func (r *StatsRepository) GetBuyerStats(ctx context.Context, buyerID string) (_ *domain.BuyerRatingStats, err error) {
	query := `
		SELECT buyer_id, avg_rating_bayes, avg_rating_raw, ratings_count, reliability_score, last_review_at
		FROM buyer_rating_stats
		WHERE buyer_id = $1`

	ctx, end := database.TraceQuery(ctx, "stats.GetBuyerStats", query)
	defer func() { end(err) }()

	var s domain.BuyerRatingStats
	err = r.pool.QueryRow(ctx, query, buyerID).Scan(
		&s.BuyerID, &s.AvgRatingBayes, &s.AvgRatingRaw, &s.RatingsCount, &s.ReliabilityScore, &s.LastReviewAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("buyer_rating_stats", buyerID)
		}
		return nil, fmt.Errorf("get buyer stats: %w", err)
	}
	if s.LastReviewAt != nil {
		t := s.LastReviewAt.UTC()
		s.LastReviewAt = &t
	}
	return &s, nil
}

// UpsertBuyerStats replaces the stats row of a buyer.
func (r *StatsRepository) UpsertBuyerStats(ctx context.Context, s *domain.BuyerRatingStats) (err error) {
	query := `
		INSERT INTO buyer_rating_stats (buyer_id, avg_rating_bayes, avg_rating_raw, ratings_count, reliability_score, last_review_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (buyer_id) DO UPDATE
		SET avg_rating_bayes  = EXCLUDED.avg_rating_bayes,
		    avg_rating_raw    = EXCLUDED.avg_rating_raw,
		    ratings_count     = EXCLUDED.ratings_count,
		    reliability_score = EXCLUDED.reliability_score,
		    last_review_at    = EXCLUDED.last_review_at`

	ctx, end := database.TraceQuery(ctx, "stats.UpsertBuyerStats", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query,
		s.BuyerID, s.AvgRatingBayes, s.AvgRatingRaw, s.RatingsCount, s.ReliabilityScore, s.LastReviewAt,
	); err != nil {
		return fmt.Errorf("upsert buyer stats: %w", err)
	}
	return nil
}

// ListStatsSubjects returns the subjects that have a stats row.
func (r *StatsRepository) ListStatsSubjects(ctx context.Context, direction domain.Direction) (_ []string, err error) {
	query := `SELECT seller_id FROM seller_rating_stats ORDER BY seller_id`
	if direction == domain.DirectionSellerOnBuyer {
		query = `SELECT buyer_id FROM buyer_rating_stats ORDER BY buyer_id`
	}

	ctx, end := database.TraceQuery(ctx, "stats.ListStatsSubjects", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stats subjects: %w", err)
	}
	return collectStrings(rows)
}

// GetMean returns the stored marketplace mean of a direction.
func (r *StatsRepository) GetMean(ctx context.Context, direction domain.Direction) (_ *domain.MarketplaceMean, err error) {
	query := `
		SELECT direction, value, sample_size, computed_at
		FROM marketplace_means
		WHERE direction = $1`

	ctx, end := database.TraceQuery(ctx, "stats.GetMean", query)
	defer func() { end(err) }()

	var m domain.MarketplaceMean
	err = r.pool.QueryRow(ctx, query, string(direction)).Scan(&m.Direction, &m.Value, &m.SampleSize, &m.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("marketplace_mean", string(direction))
		}
		return nil, fmt.Errorf("get marketplace mean: %w", err)
	}
	m.ComputedAt = m.ComputedAt.UTC()
	return &m, nil
}

// UpsertMean replaces the stored marketplace mean of a direction.
func (r *StatsRepository) UpsertMean(ctx context.Context, m *domain.MarketplaceMean) (err error) {
	query := `
		INSERT INTO marketplace_means (direction, value, sample_size, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (direction) DO UPDATE
		SET value = EXCLUDED.value, sample_size = EXCLUDED.sample_size, computed_at = EXCLUDED.computed_at`

	ctx, end := database.TraceQuery(ctx, "stats.UpsertMean", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, string(m.Direction), m.Value, m.SampleSize, m.ComputedAt); err != nil {
		return fmt.Errorf("upsert marketplace mean: %w", err)
	}
	return nil
}
