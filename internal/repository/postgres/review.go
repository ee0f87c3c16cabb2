package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
	"github.com/utafrali/stocklot-review/pkg/database"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

const uniqueViolation = "23505"

const reviewColumns = `id, order_group_id, reviewer_user_id, subject_user_id, direction, rating,
		       title, body, tags, photos, moderation_status, toxicity_score,
		       blind_until, editable_until, created_at, updated_at`

// ReviewRepository implements review persistence operations using PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create inserts a new review. The unique index on the
// (order_group_id, reviewer_user_id, direction) triple turns a concurrent
// duplicate into ErrAlreadyExists.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (id, order_group_id, reviewer_user_id, subject_user_id, direction, rating,
		                     title, body, tags, photos, moderation_status, toxicity_score,
		                     blind_until, editable_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	ctx, end := database.TraceQuery(ctx, "reviews.Create", query)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		review.ID,
		review.OrderGroupID,
		review.ReviewerUserID,
		review.SubjectUserID,
		string(review.Direction),
		review.Rating,
		review.Title,
		review.Body,
		nonNil(review.Tags),
		nonNil(review.Photos),
		string(review.ModerationStatus),
		review.ToxicityScore,
		review.BlindUntil,
		review.EditableUntil,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("review", "order_group_id", review.OrderGroupID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetByID retrieves a review by id.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "reviews.GetByID", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("get review by id: %w", err)
	}
	return rv, nil
}

// Update overwrites the mutable fields of a review.
func (r *ReviewRepository) Update(ctx context.Context, review *domain.Review) (err error) {
	query := `
		UPDATE reviews
		SET rating = $2, title = $3, body = $4, tags = $5, photos = $6,
		    moderation_status = $7, toxicity_score = $8, blind_until = $9, updated_at = $10
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "reviews.Update", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query,
		review.ID,
		review.Rating,
		review.Title,
		review.Body,
		nonNil(review.Tags),
		nonNil(review.Photos),
		string(review.ModerationStatus),
		review.ToxicityScore,
		review.BlindUntil,
		review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("review", review.ID)
	}
	return nil
}

// Delete removes a review.
func (r *ReviewRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "reviews.Delete", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("review", id)
	}
	return nil
}

// ListByOrder returns every review of an order group, oldest first.
func (r *ReviewRepository) ListByOrder(ctx context.Context, orderGroupID string) (_ []domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE order_group_id = $1
		ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "reviews.ListByOrder", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, orderGroupID)
	if err != nil {
		return nil, fmt.Errorf("list reviews by order: %w", err)
	}
	return collectReviews(rows)
}

// LockOrder takes a transaction-scoped advisory lock keyed by the order
// group. Row locks cannot serialize two inserts that do not collide on the
// unique index, so the first-mover check relies on this.
func (r *ReviewRepository) LockOrder(ctx context.Context, orderGroupID string) (err error) {
	query := `SELECT pg_advisory_xact_lock(hashtext('reviews:order:' || $1))`

	ctx, end := database.TraceQuery(ctx, "reviews.LockOrder", query)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, orderGroupID); err != nil {
		return fmt.Errorf("lock order %s: %w", orderGroupID, err)
	}
	return nil
}

// ExistsForTriple reports whether the reviewer already reviewed the order in
// that direction.
func (r *ReviewRepository) ExistsForTriple(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction) (_ bool, err error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reviews
			WHERE order_group_id = $1 AND reviewer_user_id = $2 AND direction = $3
		)`

	ctx, end := database.TraceQuery(ctx, "reviews.ExistsForTriple", query)
	defer func() { end(err) }()

	var exists bool
	if err = r.pool.QueryRow(ctx, query, orderGroupID, reviewerID, string(direction)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check review exists: %w", err)
	}
	return exists, nil
}

// RevealOrder clears blind_until on the other reviews of the order.
func (r *ReviewRepository) RevealOrder(ctx context.Context, orderGroupID, exceptID string) (_ []domain.Review, err error) {
	query := `
		UPDATE reviews
		SET blind_until = NULL
		WHERE order_group_id = $1 AND id <> $2 AND blind_until IS NOT NULL
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "reviews.RevealOrder", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, orderGroupID, exceptID)
	if err != nil {
		return nil, fmt.Errorf("reveal order reviews: %w", err)
	}
	return collectReviews(rows)
}

// ListApprovedForSubject returns the APPROVED reviews of a subject.
func (r *ReviewRepository) ListApprovedForSubject(ctx context.Context, subjectID string, direction domain.Direction) (_ []domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE subject_user_id = $1 AND direction = $2 AND moderation_status = 'APPROVED'
		ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "reviews.ListApprovedForSubject", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, subjectID, string(direction))
	if err != nil {
		return nil, fmt.Errorf("list approved reviews: %w", err)
	}
	return collectReviews(rows)
}

// ListVisibleForSubject returns a page of the subject's reviews visible to the
// viewer, newest first, along with the total count.
func (r *ReviewRepository) ListVisibleForSubject(ctx context.Context, f repository.SubjectFilter) (_ []domain.Review, _ int, err error) {
	query := `
		SELECT ` + reviewColumns + `,
		       count(*) OVER() AS total_count
		FROM reviews
		WHERE subject_user_id = $1 AND direction = $2
		  AND (reviewer_user_id = $3
		       OR (moderation_status = 'APPROVED' AND (blind_until IS NULL OR blind_until <= $4)))
		ORDER BY created_at DESC, id DESC
		LIMIT $5 OFFSET $6`

	ctx, end := database.TraceQuery(ctx, "reviews.ListVisibleForSubject", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, f.SubjectID, string(f.Direction), f.ViewerID, f.Now, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list visible reviews: %w", err)
	}
	defer rows.Close()

	var (
		reviews    []domain.Review
		totalCount int
	)
	for rows.Next() {
		var rv domain.Review
		dest := append(reviewDest(&rv), &totalCount)
		if err = rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, totalCount, nil
}

// SummarizeApprovedSince returns the mean rating and count of APPROVED reviews
// in a direction created at or after since.
func (r *ReviewRepository) SummarizeApprovedSince(ctx context.Context, direction domain.Direction, since time.Time) (_ domain.RatingSummary, err error) {
	query := `
		SELECT COALESCE(AVG(rating)::float8, 0), count(*)
		FROM reviews
		WHERE direction = $1 AND moderation_status = 'APPROVED' AND created_at >= $2`

	ctx, end := database.TraceQuery(ctx, "reviews.SummarizeApprovedSince", query)
	defer func() { end(err) }()

	var (
		summary domain.RatingSummary
		count   int64
	)
	if err = r.pool.QueryRow(ctx, query, string(direction), since).Scan(&summary.Mean, &count); err != nil {
		return domain.RatingSummary{}, fmt.Errorf("summarize approved reviews: %w", err)
	}
	summary.Count = int(count)
	return summary, nil
}

// UnblindExpired clears elapsed blind windows in a single statement, so
// concurrent or repeated sweeps change each row at most once.
func (r *ReviewRepository) UnblindExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `
		UPDATE reviews
		SET blind_until = NULL
		WHERE moderation_status = 'APPROVED' AND blind_until IS NOT NULL AND blind_until <= $1`

	ctx, end := database.TraceQuery(ctx, "reviews.UnblindExpired", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("unblind expired reviews: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListSubjects returns the distinct subjects reviewed in a direction.
func (r *ReviewRepository) ListSubjects(ctx context.Context, direction domain.Direction) (_ []string, err error) {
	query := `
		SELECT DISTINCT subject_user_id
		FROM reviews
		WHERE direction = $1
		ORDER BY subject_user_id`

	ctx, end := database.TraceQuery(ctx, "reviews.ListSubjects", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, string(direction))
	if err != nil {
		return nil, fmt.Errorf("list review subjects: %w", err)
	}
	return collectStrings(rows)
}

// --- helpers ---

func reviewDest(rv *domain.Review) []any {
	return []any{
		&rv.ID,
		&rv.OrderGroupID,
		&rv.ReviewerUserID,
		&rv.SubjectUserID,
		&rv.Direction,
		&rv.Rating,
		&rv.Title,
		&rv.Body,
		&rv.Tags,
		&rv.Photos,
		&rv.ModerationStatus,
		&rv.ToxicityScore,
		&rv.BlindUntil,
		&rv.EditableUntil,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	}
}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	if err := row.Scan(reviewDest(&rv)...); err != nil {
		return nil, err
	}
	normalizeReview(&rv)
	return &rv, nil
}

func collectReviews(rows pgx.Rows) ([]domain.Review, error) {
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(reviewDest(&rv)...); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		normalizeReview(&rv)
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalizeReview(rv *domain.Review) {
	rv.Tags = nonNil(rv.Tags)
	rv.Photos = nonNil(rv.Photos)
	rv.EditableUntil = rv.EditableUntil.UTC()
	rv.CreatedAt = rv.CreatedAt.UTC()
	rv.UpdatedAt = rv.UpdatedAt.UTC()
	if rv.BlindUntil != nil {
		t := rv.BlindUntil.UTC()
		rv.BlindUntil = &t
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
