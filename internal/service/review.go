package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/stocklot-review/internal/aggregate"
	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/moderation"
	"github.com/utafrali/stocklot-review/internal/repository"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
	"github.com/utafrali/stocklot-review/pkg/validator"
)

var reviewsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviews_created_total",
	Help: "Reviews created by direction and initial moderation status.",
}, []string{"direction", "status"})

// Clock returns the current time. A request reads it once.
type Clock func() time.Time

// Notifier receives review lifecycle events. Calls happen off the request
// path; implementations must be safe for concurrent use.
type Notifier interface {
	ReviewCreated(ctx context.Context, r *domain.Review) error
	ReviewUpdated(ctx context.Context, r *domain.Review) error
	ReviewDeleted(ctx context.Context, r *domain.Review) error
	ReviewRevealed(ctx context.Context, revealed, counterpart *domain.Review) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) ReviewCreated(context.Context, *domain.Review) error { return nil }

func (NopNotifier) ReviewUpdated(context.Context, *domain.Review) error { return nil }

func (NopNotifier) ReviewDeleted(context.Context, *domain.Review) error { return nil }

func (NopNotifier) ReviewRevealed(context.Context, *domain.Review, *domain.Review) error { return nil }

// EligibilityChecker decides whether a reviewer may review an order.
type EligibilityChecker interface {
	CheckAt(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction, now time.Time) domain.EligibilityResult
}

// Aggregator rebuilds the stats of one subject. Prepare runs before the
// transaction; Recompute inside it.
type Aggregator interface {
	Prepare(ctx context.Context, subjectID string, direction domain.Direction) (aggregate.Inputs, error)
	Recompute(ctx context.Context, repos repository.Repositories, subjectID string, direction domain.Direction, in aggregate.Inputs, now time.Time) (*aggregate.Result, error)
}

// Config holds the review lifecycle tunables.
type Config struct {
	ToxicityThreshold     float64
	BlindWindow           time.Duration
	EditWindow            time.Duration
	SecondMoverEditWindow time.Duration
	NotifyTimeout         time.Duration
	Clock                 Clock
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ToxicityThreshold:     0.82,
		BlindWindow:           168 * time.Hour,
		EditWindow:            72 * time.Hour,
		SecondMoverEditWindow: time.Hour,
		NotifyTimeout:         5 * time.Second,
	}
}

// ReviewService implements the review lifecycle. It is the only writer of
// reviews.
type ReviewService struct {
	store       repository.Store
	eligibility EligibilityChecker
	moderation  moderation.Gateway
	aggregator  Aggregator
	notifier    Notifier
	cfg         Config
	logger      *slog.Logger
	pending     sync.WaitGroup
}

// NewReviewService creates a new review service. A nil gateway behaves like
// moderation.Open and a nil notifier like NopNotifier.
func NewReviewService(
	store repository.Store,
	eligibility EligibilityChecker,
	gateway moderation.Gateway,
	aggregator Aggregator,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *ReviewService {
	if gateway == nil {
		gateway = moderation.Open{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &ReviewService{
		store:       store,
		eligibility: eligibility,
		moderation:  gateway,
		aggregator:  aggregator,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *ReviewService) now() time.Time {
	return s.cfg.Clock().UTC()
}

// CreateReviewInput holds the parameters for creating a review.
type CreateReviewInput struct {
	OrderGroupID string           `json:"order_group_id" validate:"required,max=64"`
	Direction    domain.Direction `json:"direction" validate:"required,oneof=BUYER_ON_SELLER SELLER_ON_BUYER"`
	Rating       int              `json:"rating" validate:"required,min=1,max=5"`
	Title        string           `json:"title" validate:"max=120"`
	Body         string           `json:"body" validate:"max=5000"`
	Tags         []string         `json:"tags" validate:"max=10,dive,max=32"`
	Photos       []string         `json:"photos" validate:"max=10,dive,required,url"`
}

// ReviewCreated is returned to the author of a new review.
type ReviewCreated struct {
	ReviewID         string                  `json:"review_id"`
	ModerationStatus domain.ModerationStatus `json:"moderation_status"`
	ToxicityScore    float64                 `json:"toxicity_score"`
	BlindUntil       *time.Time              `json:"blind_until,omitempty"`
	EditableUntil    time.Time               `json:"editable_until"`
}

// CreateReview validates, gates, moderates and stores a review, revealing
// the counterparty's review when this is the second one on the order.
func (s *ReviewService) CreateReview(ctx context.Context, in *CreateReviewInput, reviewerID string) (*ReviewCreated, error) {
	if reviewerID == "" {
		return nil, apperrors.Unauthorized("missing user identity")
	}
	if in == nil {
		return nil, apperrors.Validation("body", "is required")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	direction, err := domain.ParseDirection(string(in.Direction))
	if err != nil {
		return nil, err
	}
	content := domain.Content{Rating: in.Rating, Title: in.Title, Body: in.Body, Tags: in.Tags, Photos: in.Photos}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	now := s.now()

	elig := s.eligibility.CheckAt(ctx, in.OrderGroupID, reviewerID, direction, now)
	if !elig.Eligible {
		return nil, apperrors.NotEligible(elig.Reason, domain.ReasonMessage(elig.Reason))
	}

	verdict := s.moderation.Moderate(ctx, moderationContent(content))
	status := domain.ModerationApproved
	if s.rejects(verdict) {
		status = domain.ModerationFlagged
	}

	var inputs aggregate.Inputs
	if status == domain.ModerationApproved {
		if inputs, err = s.aggregator.Prepare(ctx, elig.SubjectUserID, direction); err != nil {
			return nil, fmt.Errorf("prepare subject stats: %w", err)
		}
	}

	var (
		created  *domain.Review
		revealed []domain.Review
	)
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		// Serializes the first-mover decision with the counterparty's write.
		if err := repos.Reviews.LockOrder(ctx, in.OrderGroupID); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		existing, err := repos.Reviews.ListByOrder(ctx, in.OrderGroupID)
		if err != nil {
			return fmt.Errorf("list order reviews: %w", err)
		}

		blindUntil := now.Add(s.cfg.BlindWindow)
		params := domain.NewReviewParams{
			ID:               uuid.New().String(),
			OrderGroupID:     in.OrderGroupID,
			ReviewerUserID:   reviewerID,
			SubjectUserID:    elig.SubjectUserID,
			Direction:        direction,
			Rating:           in.Rating,
			Title:            in.Title,
			Body:             in.Body,
			Tags:             in.Tags,
			Photos:           in.Photos,
			ModerationStatus: status,
			ToxicityScore:    verdict.ToxicityScore,
			BlindUntil:       &blindUntil,
			EditableUntil:    now.Add(s.cfg.EditWindow),
			Now:              now,
		}
		if len(existing) > 0 {
			params.BlindUntil = nil
			params.EditableUntil = now.Add(s.cfg.SecondMoverEditWindow)
		}

		review, err := domain.NewReview(params)
		if err != nil {
			return err
		}
		if err := repos.Reviews.Create(ctx, review); err != nil {
			if errors.Is(err, apperrors.ErrAlreadyExists) {
				return apperrors.NotEligible(domain.ReasonAlreadyReviewed, domain.ReasonMessage(domain.ReasonAlreadyReviewed))
			}
			return fmt.Errorf("insert review: %w", err)
		}

		if len(existing) > 0 {
			if revealed, err = repos.Reviews.RevealOrder(ctx, in.OrderGroupID, review.ID); err != nil {
				return fmt.Errorf("reveal order reviews: %w", err)
			}
		}

		if review.ModerationStatus == domain.ModerationApproved {
			if _, err := s.aggregator.Recompute(ctx, repos, review.SubjectUserID, direction, inputs, now); err != nil {
				return fmt.Errorf("recompute subject stats: %w", err)
			}
		}

		created = review
		return nil
	})
	if err != nil {
		return nil, err
	}

	reviewsCreatedTotal.WithLabelValues(string(direction), string(created.ModerationStatus)).Inc()
	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", created.ID),
		slog.String("order_group_id", created.OrderGroupID),
		slog.String("direction", string(direction)),
		slog.String("moderation_status", string(created.ModerationStatus)),
		slog.String("moderation_outcome", string(verdict.Outcome)),
		slog.Int("revealed", len(revealed)),
	)

	s.notify(ctx, "review.created", created.ID, func(ctx context.Context) error {
		return s.notifier.ReviewCreated(ctx, created)
	})
	for i := range revealed {
		r := &revealed[i]
		s.notify(ctx, "review.revealed", r.ID, func(ctx context.Context) error {
			return s.notifier.ReviewRevealed(ctx, r, created)
		})
	}

	return &ReviewCreated{
		ReviewID:         created.ID,
		ModerationStatus: created.ModerationStatus,
		ToxicityScore:    created.ToxicityScore,
		BlindUntil:       created.BlindUntil,
		EditableUntil:    created.EditableUntil,
	}, nil
}

// ReviewPatch holds the fields of an update. Nil fields are left unchanged.
type ReviewPatch struct {
	Rating *int     `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Title  *string  `json:"title,omitempty" validate:"omitempty,max=120"`
	Body   *string  `json:"body,omitempty" validate:"omitempty,max=5000"`
	Tags   []string `json:"tags,omitempty" validate:"omitempty,max=10,dive,max=32"`
	Photos []string `json:"photos,omitempty" validate:"omitempty,max=10,dive,required,url"`
}

func (p *ReviewPatch) empty() bool {
	return p.Rating == nil && p.Title == nil && p.Body == nil && p.Tags == nil && p.Photos == nil
}

// apply returns a copy of r with the patch applied and whether moderated
// content changed.
func (p *ReviewPatch) apply(r *domain.Review) (*domain.Review, bool) {
	next := r.Clone()
	changed := false
	if p.Rating != nil && *p.Rating != r.Rating {
		next.Rating = *p.Rating
		changed = true
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) != r.Title {
		next.Title = strings.TrimSpace(*p.Title)
		changed = true
	}
	if p.Body != nil && strings.TrimSpace(*p.Body) != r.Body {
		next.Body = strings.TrimSpace(*p.Body)
		changed = true
	}
	if p.Tags != nil {
		tags := domain.NormalizeTags(p.Tags)
		if strings.Join(tags, "\x00") != strings.Join(r.Tags, "\x00") {
			changed = true
		}
		next.Tags = tags
	}
	if p.Photos != nil {
		next.Photos = append([]string{}, p.Photos...)
	}
	return next, changed
}

// UpdateReview applies a patch from the review's author while the edit
// window is open and the counterparty has not posted.
func (s *ReviewService) UpdateReview(ctx context.Context, reviewID string, patch *ReviewPatch, userID string) (*domain.Review, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("missing user identity")
	}
	if patch == nil || patch.empty() {
		return nil, apperrors.Validation("body", "must change at least one field")
	}
	if err := validateInput(patch); err != nil {
		return nil, err
	}

	now := s.now()

	current, err := s.authorize(ctx, s.store.Repositories(), reviewID, userID, now)
	if err != nil {
		return nil, err
	}
	preview, contentChanged := patch.apply(current)
	if err := contentOf(preview).Validate(); err != nil {
		return nil, err
	}

	var verdict *moderation.Verdict
	if contentChanged {
		v := s.moderation.Moderate(ctx, moderationContent(contentOf(preview)))
		verdict = &v
	}

	// remoderate never promotes to APPROVED, so only an approved review
	// changes the subject's stats.
	var inputs aggregate.Inputs
	if current.ModerationStatus == domain.ModerationApproved {
		if inputs, err = s.aggregator.Prepare(ctx, current.SubjectUserID, current.Direction); err != nil {
			return nil, fmt.Errorf("prepare subject stats: %w", err)
		}
	}

	var updated *domain.Review
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Reviews.LockOrder(ctx, current.OrderGroupID); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		cur, err := s.authorize(ctx, repos, reviewID, userID, now)
		if err != nil {
			return err
		}

		next, _ := patch.apply(cur)
		if verdict != nil {
			next.ToxicityScore = verdict.ToxicityScore
			next.ModerationStatus = s.remoderate(cur.ModerationStatus, *verdict)
		}
		next.UpdatedAt = now

		if err := repos.Reviews.Update(ctx, next); err != nil {
			return fmt.Errorf("update review: %w", err)
		}

		if cur.ModerationStatus == domain.ModerationApproved {
			if _, err := s.aggregator.Recompute(ctx, repos, next.SubjectUserID, next.Direction, inputs, now); err != nil {
				return fmt.Errorf("recompute subject stats: %w", err)
			}
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "review updated",
		slog.String("review_id", updated.ID),
		slog.Bool("content_changed", contentChanged),
		slog.String("moderation_status", string(updated.ModerationStatus)),
	)

	s.notify(ctx, "review.updated", updated.ID, func(ctx context.Context) error {
		return s.notifier.ReviewUpdated(ctx, updated)
	})

	return updated, nil
}

// DeleteReview removes a review under the same rules as UpdateReview and
// recomputes the subject.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID, userID string) error {
	if userID == "" {
		return apperrors.Unauthorized("missing user identity")
	}

	now := s.now()

	current, err := s.authorize(ctx, s.store.Repositories(), reviewID, userID, now)
	if err != nil {
		return err
	}
	inputs, err := s.aggregator.Prepare(ctx, current.SubjectUserID, current.Direction)
	if err != nil {
		return fmt.Errorf("prepare subject stats: %w", err)
	}

	var deleted *domain.Review
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		if err := repos.Reviews.LockOrder(ctx, current.OrderGroupID); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		cur, err := s.authorize(ctx, repos, reviewID, userID, now)
		if err != nil {
			return err
		}
		if err := repos.Reviews.Delete(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		if _, err := s.aggregator.Recompute(ctx, repos, cur.SubjectUserID, cur.Direction, inputs, now); err != nil {
			return fmt.Errorf("recompute subject stats: %w", err)
		}
		deleted = cur
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", deleted.ID),
		slog.String("order_group_id", deleted.OrderGroupID),
	)

	s.notify(ctx, "review.deleted", deleted.ID, func(ctx context.Context) error {
		return s.notifier.ReviewDeleted(ctx, deleted)
	})
	return nil
}

// authorize loads a review and checks that userID may still change it.
func (s *ReviewService) authorize(ctx context.Context, repos repository.Repositories, reviewID, userID string, now time.Time) (*domain.Review, error) {
	review, err := repos.Reviews.GetByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("review", reviewID)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	if review.ReviewerUserID != userID {
		return nil, apperrors.Forbidden("only the author can change a review")
	}
	if !review.EditableAt(now) {
		return nil, apperrors.WindowExpired("the edit window for this review has closed")
	}

	siblings, err := repos.Reviews.ListByOrder(ctx, review.OrderGroupID)
	if err != nil {
		return nil, fmt.Errorf("list order reviews: %w", err)
	}
	for _, r := range siblings {
		if r.ReviewerUserID != review.ReviewerUserID {
			return nil, apperrors.CounterpartyPosted("the other party has already reviewed this order")
		}
	}
	return review, nil
}

// rejects reports whether a fresh verdict keeps a review out of APPROVED.
func (s *ReviewService) rejects(v moderation.Verdict) bool {
	return v.Flagged || v.ToxicityScore >= s.cfg.ToxicityThreshold
}

// remoderate derives the status after edited content was moderated again.
func (s *ReviewService) remoderate(prev domain.ModerationStatus, v moderation.Verdict) domain.ModerationStatus {
	switch {
	case s.rejects(v):
		return domain.ModerationFlagged
	case prev == domain.ModerationFlagged:
		return domain.ModerationPending
	default:
		return prev
	}
}

// notify runs fn on a detached context so the request can return first.
func (s *ReviewService) notify(ctx context.Context, eventType, reviewID string, fn func(ctx context.Context) error) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
		defer cancel()

		if err := fn(nctx); err != nil {
			s.logger.ErrorContext(nctx, "failed to publish review event",
				slog.String("event_type", eventType),
				slog.String("review_id", reviewID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Drain waits for in-flight notifications or for ctx to end.
func (s *ReviewService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contentOf(r *domain.Review) domain.Content {
	return domain.Content{Rating: r.Rating, Title: r.Title, Body: r.Body, Tags: r.Tags, Photos: r.Photos}
}

func moderationContent(c domain.Content) moderation.Content {
	return moderation.Content{
		Title: strings.TrimSpace(c.Title),
		Body:  strings.TrimSpace(c.Body),
		Tags:  domain.NormalizeTags(c.Tags),
	}
}

func validateInput(v any) error {
	if err := validator.Validate(v); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			return verr.AppError()
		}
		return apperrors.Validation("body", err.Error())
	}
	return nil
}
