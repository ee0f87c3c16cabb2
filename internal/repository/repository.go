package repository

import (
	"context"
	"time"

	"github.com/utafrali/stocklot-review/internal/domain"
)

// SubjectFilter selects the reviews of one subject visible to a viewer.
type SubjectFilter struct {
	SubjectID string
	Direction domain.Direction
	ViewerID  string
	Now       time.Time
	Limit     int
	Offset    int
}

// ReviewRepository defines the interface for review persistence operations.
type ReviewRepository interface {
	// Create inserts a review. A second review for the same
	// (order_group_id, reviewer_user_id, direction) fails with ErrAlreadyExists.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a review by id.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// Update overwrites the mutable fields of a review.
	Update(ctx context.Context, review *domain.Review) error

	// Delete removes a review.
	Delete(ctx context.Context, id string) error

	// ListByOrder returns every review of an order group, oldest first.
	ListByOrder(ctx context.Context, orderGroupID string) ([]domain.Review, error)

	// LockOrder holds an order-level lock until the surrounding transaction
	// ends. Writers of the same order group run one after another. Outside a
	// transaction it is released immediately.
	LockOrder(ctx context.Context, orderGroupID string) error

	// ExistsForTriple reports whether the reviewer already reviewed the order
	// in that direction.
	ExistsForTriple(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction) (bool, error)

	// RevealOrder clears blind_until on every review of the order except
	// exceptID and returns the reviews it changed.
	RevealOrder(ctx context.Context, orderGroupID, exceptID string) ([]domain.Review, error)

	// ListApprovedForSubject returns the APPROVED reviews of a subject in one
	// direction ordered by created_at, id.
	ListApprovedForSubject(ctx context.Context, subjectID string, direction domain.Direction) ([]domain.Review, error)

	// ListVisibleForSubject returns a page of reviews the viewer may read and
	// the total count.
	ListVisibleForSubject(ctx context.Context, f SubjectFilter) ([]domain.Review, int, error)

	// SummarizeApprovedSince returns the mean rating and count of APPROVED
	// reviews in a direction created at or after since.
	SummarizeApprovedSince(ctx context.Context, direction domain.Direction, since time.Time) (domain.RatingSummary, error)

	// UnblindExpired clears blind_until on APPROVED reviews whose blind window
	// ended at or before now and returns the number of rows changed.
	UnblindExpired(ctx context.Context, now time.Time) (int64, error)

	// ListSubjects returns the distinct subjects with at least one review in a
	// direction, sorted.
	ListSubjects(ctx context.Context, direction domain.Direction) ([]string, error)
}

// StatsRepository persists per-subject aggregates and marketplace means.
// Every write is a full replace.
type StatsRepository interface {
	GetSellerStats(ctx context.Context, sellerID string) (*domain.SellerRatingStats, error)
	UpsertSellerStats(ctx context.Context, stats *domain.SellerRatingStats) error
	GetBuyerStats(ctx context.Context, buyerID string) (*domain.BuyerRatingStats, error)
	UpsertBuyerStats(ctx context.Context, stats *domain.BuyerRatingStats) error

	// ListStatsSubjects returns the subjects that already have a stats row
	// for a direction, sorted.
	ListStatsSubjects(ctx context.Context, direction domain.Direction) ([]string, error)

	GetMean(ctx context.Context, direction domain.Direction) (*domain.MarketplaceMean, error)
	UpsertMean(ctx context.Context, mean *domain.MarketplaceMean) error
}

// Repositories bundles the repositories bound to one connection or
// transaction.
type Repositories struct {
	Reviews ReviewRepository
	Stats   StatsRepository
}

// Store hands out repositories. Code running inside WithinTx must only use
// the repositories passed to fn.
type Store interface {
	// Repositories returns non-transactional repositories.
	Repositories() Repositories

	// WithinTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise.
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}
