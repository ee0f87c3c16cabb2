package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocklot-review/internal/domain"
	pkgkafka "github.com/utafrali/stocklot-review/pkg/kafka"
)

// --- Mocks ---

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

type mockRefresher struct{ mock.Mock }

func (m *mockRefresher) RefreshBuyerStats(ctx context.Context, buyerID string) error {
	args := m.Called(ctx, buyerID)
	return args.Error(0)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEvent(eventType string, data any) *pkgkafka.Event {
	raw, _ := json.Marshal(data)
	return &pkgkafka.Event{
		EventID:     "evt-1",
		EventType:   eventType,
		AggregateID: "order-1",
		Version:     1,
		Timestamp:   time.Now().UTC(),
		Source:      "test-service",
		Data:        raw,
	}
}

func sampleReview() *domain.Review {
	blind := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)
	return &domain.Review{
		ID:               "rev-1",
		OrderGroupID:     "order-1",
		ReviewerUserID:   "buyer-1",
		SubjectUserID:    "seller-1",
		Direction:        domain.DirectionBuyerOnSeller,
		Rating:           5,
		ModerationStatus: domain.ModerationApproved,
		BlindUntil:       &blind,
		EditableUntil:    blind.Add(-96 * time.Hour),
	}
}

// --- Producer ---

func TestProducer_ReviewCreated(t *testing.T) {
	pub := new(mockPublisher)
	var got *pkgkafka.Event
	pub.On("Publish", mock.Anything, "stocklot.review.created", mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { got = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	require.NoError(t, NewProducer(pub, newTestLogger()).ReviewCreated(context.Background(), sampleReview()))
	pub.AssertExpectations(t)

	require.NotNil(t, got)
	assert.Equal(t, "rev-1", got.AggregateID)
	assert.Equal(t, AggregateTypeReview, got.AggregateType)
	assert.Equal(t, SourceReviewService, got.Source)

	var data ReviewData
	require.NoError(t, got.UnmarshalData(&data))
	assert.Equal(t, "seller-1", data.SubjectUserID)
	assert.Equal(t, domain.ModerationApproved, data.ModerationStatus)
	require.NotNil(t, data.BlindUntil)
}

func TestProducer_ReviewRevealedAddressesFirstMover(t *testing.T) {
	pub := new(mockPublisher)
	var got *pkgkafka.Event
	pub.On("Publish", mock.Anything, TopicReviewRevealed, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	second := &domain.Review{ID: "rev-2", OrderGroupID: "order-1", ReviewerUserID: "seller-1"}
	require.NoError(t, NewProducer(pub, newTestLogger()).ReviewRevealed(context.Background(), sampleReview(), second))

	var data ReviewRevealedData
	require.NoError(t, got.UnmarshalData(&data))
	assert.Equal(t, ReviewRevealedData{
		ReviewID:             "rev-1",
		OrderGroupID:         "order-1",
		RecipientUserID:      "buyer-1",
		CounterpartyReviewID: "rev-2",
	}, data)
}

func TestProducer_PublishError(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, TopicReviewDeleted, mock.Anything).Return(errors.New("broker down"))

	err := NewProducer(pub, newTestLogger()).ReviewDeleted(context.Background(), sampleReview())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

// --- Consumer ---

func TestConsumer_OrderCancelledRefreshesBuyer(t *testing.T) {
	svc := new(mockRefresher)
	svc.On("RefreshBuyerStats", mock.Anything, "buyer-7").Return(nil)

	event := newTestEvent(TopicOrderCancelled, OrderCancelledData{OrderID: "order-1", BuyerID: "buyer-7"})
	require.NoError(t, NewConsumer(svc, newTestLogger()).HandleOrderCancelled(context.Background(), event))
	svc.AssertExpectations(t)
}

func TestConsumer_DisputeResolvedPropagatesError(t *testing.T) {
	svc := new(mockRefresher)
	svc.On("RefreshBuyerStats", mock.Anything, "buyer-7").Return(errors.New("db down"))

	event := newTestEvent(TopicDisputeResolved, DisputeResolvedData{DisputeID: "d-1", OrderID: "order-1", BuyerID: "buyer-7", Status: "RESOLVED"})
	err := NewConsumer(svc, newTestLogger()).HandleDisputeResolved(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buyer-7")
}

func TestConsumer_MissingBuyerIsSkipped(t *testing.T) {
	svc := new(mockRefresher)

	event := newTestEvent(TopicOrderCancelled, OrderCancelledData{OrderID: "order-1"})
	require.NoError(t, NewConsumer(svc, newTestLogger()).HandleOrderCancelled(context.Background(), event))
	svc.AssertNotCalled(t, "RefreshBuyerStats", mock.Anything, mock.Anything)
}

func TestConsumer_MalformedPayload(t *testing.T) {
	svc := new(mockRefresher)
	event := &pkgkafka.Event{EventType: TopicOrderCancelled, Data: json.RawMessage(`{"buyer_id":`)}

	err := NewConsumer(svc, newTestLogger()).HandleOrderCancelled(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal order.cancelled data")
}
