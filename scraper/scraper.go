// Package scraper wraps single outbound fetches with a timeout, failure
// classification and exponential backoff.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/retry"
)

// ContentKind tells the renderer what kind of body is expected.
type ContentKind int

const (
	KindHTML ContentKind = iota
	KindPDF
)

func (k ContentKind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// Renderer performs one unretried fetch of url.
type Renderer interface {
	Render(ctx context.Context, url string, kind ContentKind) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, url string, kind ContentKind) ([]byte, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, url string, kind ContentKind) ([]byte, error) {
	return f(ctx, url, kind)
}

// OutcomeKind tags a fetch Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePermanent
	OutcomeExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePermanent:
		return "permanent"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the single result of a logical fetch.
type Outcome struct {
	Kind        OutcomeKind
	Body        []byte
	ContentKind ContentKind
	// Err is the permanent reason or the last transient error.
	Err      error
	Attempts int
}

// Result flattens the outcome into the usual (body, error) pair.
func (o Outcome) Result() ([]byte, error) {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Body, nil
	case OutcomeExhausted:
		return nil, fmt.Errorf("retries exhausted after %d attempts: %w", o.Attempts, o.Err)
	default:
		return nil, fmt.Errorf("permanent failure: %w", o.Err)
	}
}

// Fetcher is implemented by Transport and by test doubles.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind ContentKind) Outcome
}

// Transport retries a Renderer under a retry.Policy.
type Transport struct {
	renderer Renderer
	policy   retry.Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error

	totalRetries int64
}

// NewTransport builds a transport. A nil logger falls back to slog.Default.
func NewTransport(renderer Renderer, policy retry.Policy, logger *slog.Logger, m *metrics.Metrics) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Transport{
		renderer: renderer,
		policy:   policy,
		logger:   logger,
		metrics:  m,
		sleep:    retry.Sleep,
	}
}

// Fetch runs up to MaxAttempts attempts, each bounded by the policy timeout.
func (t *Transport) Fetch(ctx context.Context, url string, kind ContentKind) Outcome {
	var lastErr error

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomePermanent, ContentKind: kind, Err: err, Attempts: attempt - 1}
		}

		body, err := t.attempt(ctx, url, kind)
		if err == nil {
			t.metrics.IncAttempt("success")
			t.logger.Debug("fetch succeeded",
				slog.String("url", url),
				slog.String("kind", kind.String()),
				slog.Int("attempt", attempt),
				slog.Int("bytes", len(body)),
			)
			return Outcome{Kind: OutcomeSuccess, Body: body, ContentKind: kind, Attempts: attempt}
		}
		lastErr = err

		classified := classifyError(err)
		category := errorTypeLabel(classified)
		t.metrics.IncError(category)

		// The parent context ending is a shutdown, not a remote failure.
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomePermanent, ContentKind: kind, Err: ctx.Err(), Attempts: attempt}
		}

		if !IsTransient(err) {
			t.metrics.IncAttempt("permanent")
			t.logger.Warn("fetch failed permanently",
				slog.String("url", url),
				slog.String("category", category),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return Outcome{Kind: OutcomePermanent, ContentKind: kind, Err: classified, Attempts: attempt}
		}
		t.metrics.IncAttempt("transient")

		if attempt == t.policy.MaxAttempts {
			break
		}

		delay := t.policy.Backoff(attempt)
		atomic.AddInt64(&t.totalRetries, 1)
		t.metrics.IncRetries()
		t.logger.Warn("fetch failed, retrying",
			slog.String("url", url),
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", t.policy.MaxAttempts),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if err := t.sleep(ctx, delay); err != nil {
			return Outcome{Kind: OutcomePermanent, ContentKind: kind, Err: err, Attempts: attempt}
		}
	}

	t.logger.Error("fetch retries exhausted",
		slog.String("url", url),
		slog.Int("attempts", t.policy.MaxAttempts),
		slog.Any("error", lastErr),
	)
	return Outcome{Kind: OutcomeExhausted, ContentKind: kind, Err: lastErr, Attempts: t.policy.MaxAttempts}
}

func (t *Transport) attempt(ctx context.Context, url string, kind ContentKind) ([]byte, error) {
	attemptCtx := ctx
	if t.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, t.policy.Timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := t.renderer.Render(attemptCtx, url, kind)
	t.metrics.ObserveDuration(time.Since(start))

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrTimeout{Err: err}
	}
	return body, err
}

// TotalRetries returns the number of backoff retries performed so far.
func (t *Transport) TotalRetries() int {
	return int(atomic.LoadInt64(&t.totalRetries))
}
