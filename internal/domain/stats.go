package domain

import "time"

// SellerRatingStats is the aggregate of APPROVED BUYER_ON_SELLER reviews of a
// seller. RatingsCount == 0 means "no ratings yet", not a zero-star score.
type SellerRatingStats struct {
	SellerID       string     `json:"seller_id"`
	AvgRatingBayes float64    `json:"avg_rating_bayes"`
	AvgRatingRaw   float64    `json:"avg_rating_raw"`
	RatingsCount   int        `json:"ratings_count"`
	Histogram      [5]int     `json:"histogram"`
	LastReviewAt   *time.Time `json:"last_review_at,omitempty"`
}

// HasRatings reports whether at least one approved review was counted.
func (s *SellerRatingStats) HasRatings() bool { return s.RatingsCount > 0 }

// BuyerRatingStats is the aggregate of APPROVED SELLER_ON_BUYER reviews of a
// buyer plus the buyer reliability score.
type BuyerRatingStats struct {
	BuyerID          string     `json:"buyer_id"`
	AvgRatingBayes   float64    `json:"avg_rating_bayes"`
	AvgRatingRaw     float64    `json:"avg_rating_raw"`
	RatingsCount     int        `json:"ratings_count"`
	ReliabilityScore float64    `json:"reliability_score"`
	LastReviewAt     *time.Time `json:"last_review_at,omitempty"`
}

func (s *BuyerRatingStats) HasRatings() bool { return s.RatingsCount > 0 }

// MarketplaceMean is the prior used for Bayesian smoothing in one direction.
type MarketplaceMean struct {
	Direction  Direction `json:"direction"`
	Value      float64   `json:"value"`
	SampleSize int       `json:"sample_size"`
	ComputedAt time.Time `json:"computed_at"`
}

// RatingSummary is the mean and size of a set of ratings.
type RatingSummary struct {
	Mean  float64
	Count int
}
