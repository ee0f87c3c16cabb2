// Package moderation adapts an external toxicity provider to the review
// lifecycle.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome names the branch that produced a verdict.
type Outcome string

const (
	// OutcomeScored means the provider answered.
	OutcomeScored Outcome = "scored"
	// OutcomeUnconfigured means no provider is configured; content passes.
	OutcomeUnconfigured Outcome = "unconfigured"
	// OutcomeDegraded means the provider failed; content is held for review.
	OutcomeDegraded Outcome = "degraded"
)

// Fallback verdict values.
const (
	DegradedToxicity = 0.5
	DefaultTimeout   = 3 * time.Second
)

var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "review_moderation_outcomes_total",
	Help: "Moderation verdicts by outcome.",
}, []string{"outcome"})

// Content is the text of a review submitted for moderation.
type Content struct {
	Title string
	Body  string
	Tags  []string
}

// Text joins title, body and tags with newlines.
func (c Content) Text() string {
	parts := make([]string, 0, 3)
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Body != "" {
		parts = append(parts, c.Body)
	}
	if len(c.Tags) > 0 {
		parts = append(parts, strings.Join(c.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

// Verdict is the moderation result consumed by the review lifecycle.
type Verdict struct {
	ToxicityScore float64
	Flagged       bool
	Categories    []string
	Outcome       Outcome
}

// Gateway moderates review content. Implementations never fail: provider
// problems are folded into the verdict.
type Gateway interface {
	Moderate(ctx context.Context, c Content) Verdict
}

// Result is a raw provider answer.
type Result struct {
	ToxicityScore float64  `json:"toxicity_score"`
	Flagged       bool     `json:"flagged"`
	Categories    []string `json:"categories"`
}

// Provider is an external moderation service.
type Provider interface {
	Moderate(ctx context.Context, text string) (*Result, error)
}

// Open is the gateway used when no provider is configured. It approves
// everything.
type Open struct{}

// Moderate returns a clean verdict.
func (Open) Moderate(context.Context, Content) Verdict {
	outcomesTotal.WithLabelValues(string(OutcomeUnconfigured)).Inc()
	return Verdict{Outcome: OutcomeUnconfigured}
}

// Guarded calls a provider with a bounded timeout and turns any failure into
// a cautious flagged verdict.
type Guarded struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGuarded wraps provider. A non-positive timeout uses DefaultTimeout.
func NewGuarded(provider Provider, timeout time.Duration, logger *slog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guarded{provider: provider, timeout: timeout, logger: logger}
}

// New returns Open when provider is nil and a Guarded gateway otherwise.
func New(provider Provider, timeout time.Duration, logger *slog.Logger) Gateway {
	if provider == nil {
		return Open{}
	}
	return NewGuarded(provider, timeout, logger)
}

// Moderate asks the provider to score c.
func (g *Guarded) Moderate(ctx context.Context, c Content) Verdict {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.provider.Moderate(callCtx, c.Text())
	if err == nil && res == nil {
		err = errors.New("empty moderation result")
	}
	if err != nil {
		outcomesTotal.WithLabelValues(string(OutcomeDegraded)).Inc()
		g.logger.WarnContext(ctx, "moderation provider unavailable, flagging for manual review",
			slog.String("error", err.Error()),
		)
		return Verdict{ToxicityScore: DegradedToxicity, Flagged: true, Outcome: OutcomeDegraded}
	}

	outcomesTotal.WithLabelValues(string(OutcomeScored)).Inc()
	return Verdict{
		ToxicityScore: clamp01(res.ToxicityScore),
		Flagged:       res.Flagged,
		Categories:    res.Categories,
		Outcome:       OutcomeScored,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
