package memory

import (
	"context"

	"github.com/utafrali/stocklot-review/internal/domain"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// StatsRepository is the in-memory repository.StatsRepository.
type StatsRepository struct {
	v *view
}

func (r *StatsRepository) GetSellerStats(_ context.Context, sellerID string) (*domain.SellerRatingStats, error) {
	var out *domain.SellerRatingStats
	err := r.v.read(func(st *state) error {
		s, ok := st.sellers[sellerID]
		if !ok {
			return apperrors.NotFound("seller_rating_stats", sellerID)
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *StatsRepository) UpsertSellerStats(_ context.Context, s *domain.SellerRatingStats) error {
	return r.v.write(func(st *state) error {
		st.sellers[s.SellerID] = *s
		return nil
	})
}

func (r *StatsRepository) GetBuyerStats(_ context.Context, buyerID string) (*domain.BuyerRatingStats, error) {
	var out *domain.BuyerRatingStats
	err := r.v.read(func(st *state) error {
		s, ok := st.buyers[buyerID]
		if !ok {
			return apperrors.NotFound("buyer_rating_stats", buyerID)
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *StatsRepository) UpsertBuyerStats(_ context.Context, s *domain.BuyerRatingStats) error {
	return r.v.write(func(st *state) error {
		st.buyers[s.BuyerID] = *s
		return nil
	})
}

func (r *StatsRepository) ListStatsSubjects(_ context.Context, direction domain.Direction) ([]string, error) {
	seen := map[string]struct{}{}
	err := r.v.read(func(st *state) error {
		if direction == domain.DirectionSellerOnBuyer {
			for id := range st.buyers {
				seen[id] = struct{}{}
			}
			return nil
		}
		for id := range st.sellers {
			seen[id] = struct{}{}
		}
		return nil
	})
	return sortedKeys(seen), err
}

func (r *StatsRepository) GetMean(_ context.Context, direction domain.Direction) (*domain.MarketplaceMean, error) {
	var out *domain.MarketplaceMean
	err := r.v.read(func(st *state) error {
		m, ok := st.means[direction]
		if !ok {
			return apperrors.NotFound("marketplace_mean", string(direction))
		}
		out = &m
		return nil
	})
	return out, err
}

func (r *StatsRepository) UpsertMean(_ context.Context, m *domain.MarketplaceMean) error {
	return r.v.write(func(st *state) error {
		st.means[m.Direction] = *m
		return nil
	})
}
