package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stocklot-review/internal/domain"
	pkgkafka "github.com/utafrali/stocklot-review/pkg/kafka"
)

// Kafka topics published by the review service.
var (
	TopicReviewCreated  = pkgkafka.Topic("review", "created")
	TopicReviewUpdated  = pkgkafka.Topic("review", "updated")
	TopicReviewDeleted  = pkgkafka.Topic("review", "deleted")
	TopicReviewRevealed = pkgkafka.Topic("review", "revealed")
)

const (
	AggregateTypeReview = "review"
	SourceReviewService = "review-service"
)

// ReviewData is the payload of review.created and review.updated events.
type ReviewData struct {
	ReviewID         string                  `json:"review_id"`
	OrderGroupID     string                  `json:"order_group_id"`
	ReviewerUserID   string                  `json:"reviewer_user_id"`
	SubjectUserID    string                  `json:"subject_user_id"`
	Direction        domain.Direction        `json:"direction"`
	Rating           int                     `json:"rating"`
	ModerationStatus domain.ModerationStatus `json:"moderation_status"`
	BlindUntil       *time.Time              `json:"blind_until,omitempty"`
	EditableUntil    time.Time               `json:"editable_until"`
}

// ReviewDeletedData is the payload of a review.deleted event.
type ReviewDeletedData struct {
	ReviewID       string           `json:"review_id"`
	OrderGroupID   string           `json:"order_group_id"`
	ReviewerUserID string           `json:"reviewer_user_id"`
	SubjectUserID  string           `json:"subject_user_id"`
	Direction      domain.Direction `json:"direction"`
}

// ReviewRevealedData tells the first mover that their review became visible
// because the counterparty posted.
type ReviewRevealedData struct {
	ReviewID             string `json:"review_id"`
	OrderGroupID         string `json:"order_group_id"`
	RecipientUserID      string `json:"recipient_user_id"`
	CounterpartyReviewID string `json:"counterparty_review_id"`
}

// Publisher is satisfied by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func reviewData(r *domain.Review) ReviewData {
	return ReviewData{
		ReviewID:         r.ID,
		OrderGroupID:     r.OrderGroupID,
		ReviewerUserID:   r.ReviewerUserID,
		SubjectUserID:    r.SubjectUserID,
		Direction:        r.Direction,
		Rating:           r.Rating,
		ModerationStatus: r.ModerationStatus,
		BlindUntil:       r.BlindUntil,
		EditableUntil:    r.EditableUntil,
	}
}

// ReviewCreated publishes a review.created event.
func (p *Producer) ReviewCreated(ctx context.Context, r *domain.Review) error {
	return p.publish(ctx, TopicReviewCreated, r.ID, reviewData(r))
}

// ReviewUpdated publishes a review.updated event.
func (p *Producer) ReviewUpdated(ctx context.Context, r *domain.Review) error {
	return p.publish(ctx, TopicReviewUpdated, r.ID, reviewData(r))
}

// ReviewDeleted publishes a review.deleted event.
func (p *Producer) ReviewDeleted(ctx context.Context, r *domain.Review) error {
	return p.publish(ctx, TopicReviewDeleted, r.ID, ReviewDeletedData{
		ReviewID:       r.ID,
		OrderGroupID:   r.OrderGroupID,
		ReviewerUserID: r.ReviewerUserID,
		SubjectUserID:  r.SubjectUserID,
		Direction:      r.Direction,
	})
}

// ReviewRevealed publishes a review.revealed event addressed to the author
// of revealed.
func (p *Producer) ReviewRevealed(ctx context.Context, revealed, counterpart *domain.Review) error {
	return p.publish(ctx, TopicReviewRevealed, revealed.ID, ReviewRevealedData{
		ReviewID:             revealed.ID,
		OrderGroupID:         revealed.OrderGroupID,
		RecipientUserID:      revealed.ReviewerUserID,
		CounterpartyReviewID: counterpart.ID,
	})
}

func (p *Producer) publish(ctx context.Context, topic, reviewID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, reviewID, AggregateTypeReview, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.String("review_id", reviewID),
	)
	return nil
}
