package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in metrics and logs.
	Name string

	// MaxRequests allowed while half-open. 0 means 1.
	MaxRequests uint32

	// Interval clears closed-state counts. 0 never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before half-opening.
	Timeout time.Duration

	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns defaults for a breaker named name.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// settings translates the config into gobreaker settings. onChange runs on
// every state transition.
func (c CircuitBreakerConfig) settings(onChange func(name string, from, to gobreaker.State)) gobreaker.Settings {
	minRequests, ratio := c.MinRequests, c.FailureRatio
	return gobreaker.Settings{
		Name:        c.Name,
		MaxRequests: c.MaxRequests,
		Interval:    c.Interval,
		Timeout:     c.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: onChange,
	}
}

// FallbackFunc answers a request the breaker rejected.
type FallbackFunc func(ctx context.Context, err error) (*http.Response, error)

// ErrCircuitOpen is returned when the breaker rejects a request.
var ErrCircuitOpen = gobreaker.ErrOpenState

// UpstreamError reports a 5xx answer. The breaker counts it as a failure.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

const upstreamBodyLimit = 4 << 10

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_client_breaker_state",
		Help: "Circuit breaker state per downstream (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_client_breaker_rejected_total",
		Help: "Requests rejected by an open or saturated circuit breaker.",
	}, []string{"name", "fallback"})
)

var stateValues = map[gobreaker.State]float64{
	gobreaker.StateClosed:   0,
	gobreaker.StateHalfOpen: 1,
	gobreaker.StateOpen:     2,
}

// CircuitBreakerClient guards a Doer with a gobreaker circuit breaker.
// Transport errors and 5xx responses count as failures.
type CircuitBreakerClient struct {
	name     string
	next     Doer
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	fallback FallbackFunc
	logger   *slog.Logger
}

// NewCircuitBreakerClient wraps next with a breaker configured by cbCfg.
func NewCircuitBreakerClient(next Doer, cbCfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	onChange := func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state change",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		breakerState.WithLabelValues(name).Set(stateValues[to])
	}
	breakerState.WithLabelValues(cbCfg.Name).Set(stateValues[gobreaker.StateClosed])

	return &CircuitBreakerClient{
		name:    cbCfg.Name,
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](cbCfg.settings(onChange)),
		logger:  logger,
	}
}

// WithFallback returns a copy sharing the breaker that calls fn instead of
// failing while the circuit rejects requests.
func (c *CircuitBreakerClient) WithFallback(fn FallbackFunc) *CircuitBreakerClient {
	cpy := *c
	cpy.fallback = fn
	return &cpy
}

// Do executes req through the breaker.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.attempt(ctx, req)
	})
	if err == nil || !rejected(err) {
		return resp, err
	}

	if c.fallback == nil {
		breakerRejected.WithLabelValues(c.name, "false").Inc()
		return nil, err
	}
	breakerRejected.WithLabelValues(c.name, "true").Inc()
	c.logger.WarnContext(ctx, "circuit breaker rejected request, using fallback",
		slog.String("breaker", c.name),
		slog.String("url", req.URL.Redacted()),
	)
	return c.fallback(ctx, err)
}

func (c *CircuitBreakerClient) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.next.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, upstreamBodyLimit))
	return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
}

// rejected reports whether the breaker refused to run the request.
func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
