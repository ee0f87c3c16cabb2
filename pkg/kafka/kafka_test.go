package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type recordingReader struct {
	committed []kafka.Message
}

func (r *recordingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *recordingReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *recordingReader) Close() error { return nil }

type recordingDLQ struct {
	msgs []kafka.Message
}

func (d *recordingDLQ) Publish(_ context.Context, msg kafka.Message, _ error, _ string) error {
	d.msgs = append(d.msgs, msg)
	return nil
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "stocklot.review.created", Topic("review", "created"))
	assert.Equal(t, "stocklot.dlq.stocklot.order.cancelled", DLQTopic("stocklot.order.cancelled"))
}

func TestNewEvent_EnvelopeFields(t *testing.T) {
	ev, err := NewEvent("review.created", "r-1", "review", "review-service", map[string]int{"rating": 5})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, 1, ev.Version)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Minute)

	raw, err := ev.WithCorrelationID("corr-1").WithMetadata("direction", "BUYER_ON_SELLER").Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", decoded.CorrelationID)
	assert.Equal(t, "BUYER_ON_SELLER", decoded.Metadata["direction"])

	var payload map[string]int
	require.NoError(t, decoded.UnmarshalData(&payload))
	assert.Equal(t, 5, payload["rating"])
}

func TestProducer_PublishKeysByAggregate(t *testing.T) {
	w := &recordingWriter{}
	p := newProducerWithWriter(w, quietLogger())

	ev, _ := NewEvent("review.created", "r-42", "review", "review-service", struct{}{})
	ev.WithCorrelationID("corr-7")
	require.NoError(t, p.Publish(context.Background(), Topic("review", "created"), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "stocklot.review.created", msg.Topic)
	assert.Equal(t, []byte("r-42"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "review.created", headers["event_type"])
	assert.Equal(t, "corr-7", headers["correlation_id"])
}

func TestProducer_PublishError(t *testing.T) {
	p := newProducerWithWriter(&recordingWriter{err: errors.New("leader not available")}, quietLogger())
	ev, _ := NewEvent("review.deleted", "r-1", "review", "review-service", struct{}{})

	err := p.Publish(context.Background(), "stocklot.review.deleted", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	assert.Error(t, PingBrokers(context.Background(), nil))
}

func newTestConsumer(h Handler, dlq dlqPublisher) (*Consumer, *recordingReader) {
	r := &recordingReader{}
	return &Consumer{
		reader:  r,
		dlq:     dlq,
		topic:   "stocklot.order.cancelled",
		group:   "review-service",
		handler: h,
		logger:  quietLogger(),
		backoff: func(int) time.Duration { return time.Millisecond },
	}, r
}

func eventMessage(t *testing.T) kafka.Message {
	t.Helper()
	ev, err := NewEvent("order.cancelled", "o-1", "order", "order-service", map[string]string{"buyer_id": "b-1"})
	require.NoError(t, err)
	raw, err := ev.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "stocklot.order.cancelled", Offset: 9, Value: raw}
}

func TestConsumer_ProcessRetriesThenCommits(t *testing.T) {
	var calls int
	c, r := newTestConsumer(func(context.Context, *Event) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	assert.True(t, c.process(context.Background(), eventMessage(t)))
	assert.Equal(t, 2, calls)
	assert.Len(t, r.committed, 1)
}

func TestConsumer_ProcessExhaustedGoesToDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	var calls int
	c, r := newTestConsumer(func(context.Context, *Event) error {
		calls++
		return errors.New("permanent")
	}, dlq)

	assert.True(t, c.process(context.Background(), eventMessage(t)))
	assert.Equal(t, maxHandlerRetries, calls)
	assert.Len(t, dlq.msgs, 1)
	assert.Len(t, r.committed, 1)
}

func TestConsumer_ProcessLeavesMessageOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, r := newTestConsumer(func(context.Context, *Event) error {
		cancel()
		return errors.New("store down")
	}, nil)
	c.backoff = func(int) time.Duration { return time.Hour }

	assert.False(t, c.process(ctx, eventMessage(t)))
	assert.Empty(t, r.committed)
}

func TestConsumer_ProcessSkipsMalformed(t *testing.T) {
	c, r := newTestConsumer(func(context.Context, *Event) error {
		t.Fatal("handler must not run for malformed messages")
		return nil
	}, nil)

	assert.True(t, c.process(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.Len(t, r.committed, 1)
}

func TestConsumer_StartStopsOnCancel(t *testing.T) {
	c, _ := newTestConsumer(func(context.Context, *Event) error { return nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Start(ctx))
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	s := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Add(context.Background(), "e-1"))
	seen, _ := s.Contains(context.Background(), "e-1")
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = s.Contains(context.Background(), "e-1")
	assert.False(t, seen)
	assert.Zero(t, s.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisIdempotencyStore(client, "review:events:", time.Hour)
	ctx := context.Background()

	seen, err := s.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Add(ctx, "e-1"))
	seen, err = s.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Hour, mr.TTL("review:events:e-1"))
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	var calls int
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		calls++
		return nil
	}, quietLogger())

	ev := &Event{EventID: "e-1", EventType: "dispute.resolved"}
	require.NoError(t, h(context.Background(), ev))
	require.NoError(t, h(context.Background(), ev))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_DoesNotRecordFailures(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		return errors.New("db down")
	}, quietLogger())

	require.Error(t, h(context.Background(), &Event{EventID: "e-2"}))
	seen, _ := store.Contains(context.Background(), "e-2")
	assert.False(t, seen)
}
