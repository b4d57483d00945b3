// Package browser keeps one shared automation session and a bounded free
// list of reusable pages on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/retry"
	"github.com/snikic01/BelexEmailerFinal-v1.0/scraper"
	"golang.org/x/sync/singleflight"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browser: pool closed")

// resetTimeout bounds the about:blank navigation done on release.
const resetTimeout = 5 * time.Second

// Page is a single automation tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) ([]byte, error)
	Reset(ctx context.Context) error
	Close() error
}

// Session is the shared browser process pages are opened in.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// SessionFactory starts a new session.
type SessionFactory func(ctx context.Context) (Session, error)

// ErrSessionFault wraps a failure attributed to the session rather than a
// single page. The session is dropped and recreated on next use.
type ErrSessionFault struct {
	Err error
}

func (e ErrSessionFault) Error() string {
	return fmt.Sprintf("browser session fault: %v", e.Err)
}

func (e ErrSessionFault) Unwrap() error {
	return e.Err
}

// Temporary marks session faults as retryable.
func (e ErrSessionFault) Temporary() bool {
	return true
}

// sessionMarkers identify errors raised when the devtools connection is gone.
var sessionMarkers = []string{
	"use of closed network connection",
	"websocket",
	"browser has disconnected",
	"target closed",
	"session closed",
}

func isSessionFault(err error) bool {
	if err == nil {
		return false
	}
	var fault ErrSessionFault
	if errors.As(err, &fault) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Handle is a checked-out page. It belongs to exactly one caller until
// released.
type Handle struct {
	page Page
	gen  uint64
}

// Page returns the underlying page.
func (h *Handle) Page() Page {
	return h.page
}

// Options configures a Pool.
type Options struct {
	// Capacity caps the free list. Values below 1 are treated as 1.
	Capacity int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Pool hands out pages from one lazily created session.
type Pool struct {
	newSession SessionFactory
	capacity   int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	group singleflight.Group

	mu      sync.Mutex
	session Session
	gen     uint64
	free    []*Handle
	closed  bool
}

// NewPool builds a pool. No session is started until the first Acquire.
func NewPool(factory SessionFactory, opts Options) *Pool {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		newSession: factory,
		capacity:   opts.Capacity,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

type sessionRef struct {
	session Session
	gen     uint64
}

// current returns the live session, creating it once for all concurrent
// callers.
func (p *Pool) current(ctx context.Context) (sessionRef, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return sessionRef{}, ErrPoolClosed
	}
	if p.session != nil {
		ref := sessionRef{session: p.session, gen: p.gen}
		p.mu.Unlock()
		return ref, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("session", func() (interface{}, error) {
		p.mu.Lock()
		if p.session != nil {
			ref := sessionRef{session: p.session, gen: p.gen}
			p.mu.Unlock()
			return ref, nil
		}
		p.mu.Unlock()

		p.logger.Info("starting browser session")
		s, err := p.newSession(ctx)
		if err != nil {
			return sessionRef{}, fmt.Errorf("start session: %w", err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = s.Close()
			return sessionRef{}, ErrPoolClosed
		}
		p.gen++
		p.session = s
		p.logger.Info("browser session ready", slog.Uint64("generation", p.gen))
		return sessionRef{session: s, gen: p.gen}, nil
	})
	if err != nil {
		return sessionRef{}, err
	}
	return v.(sessionRef), nil
}

// Acquire checks out a page, reusing a pooled one when available.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var stale []*Handle
	for len(p.free) > 0 {
		h := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		if h.gen == p.gen {
			p.mu.Unlock()
			p.destroyAll(stale)
			p.metrics.IncPoolPage("reused")
			return h, nil
		}
		stale = append(stale, h)
	}
	p.mu.Unlock()
	p.destroyAll(stale)

	ref, err := p.current(ctx)
	if err != nil {
		return nil, err
	}
	page, err := ref.session.NewPage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		fault := ErrSessionFault{Err: err}
		p.invalidate(ref.gen, fault)
		return nil, fault
	}
	p.metrics.IncPoolPage("created")
	return &Handle{page: page, gen: ref.gen}, nil
}

// Release returns h to the free list after resetting it. Pages that fail to
// reset, belong to a dead session, or exceed capacity are closed.
func (p *Pool) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	if p.stale(h) {
		p.destroy(h)
		return
	}

	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
	err := h.page.Reset(resetCtx)
	cancel()
	if err != nil {
		p.logger.Warn("page reset failed, discarding", slog.Any("error", err))
		p.destroy(h)
		if isSessionFault(err) {
			p.invalidate(h.gen, err)
		}
		return
	}

	p.mu.Lock()
	if p.closed || h.gen != p.gen || len(p.free) >= p.capacity {
		p.mu.Unlock()
		p.destroy(h)
		return
	}
	p.free = append(p.free, h)
	p.mu.Unlock()
	p.metrics.IncPoolPage("pooled")
}

// Discard closes h without returning it to the pool.
func (p *Pool) Discard(h *Handle) {
	if h != nil {
		p.destroy(h)
	}
}

// Invalidate drops the current session after a session-level failure.
func (p *Pool) Invalidate(err error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	p.invalidate(gen, err)
}

func (p *Pool) invalidate(gen uint64, err error) {
	p.mu.Lock()
	if p.session == nil || gen != p.gen {
		p.mu.Unlock()
		return
	}
	session := p.session
	free := p.free
	p.session = nil
	p.free = nil
	// Handles still checked out now belong to a dead generation.
	p.gen++
	p.mu.Unlock()

	p.logger.Warn("browser session invalidated",
		slog.Uint64("generation", gen),
		slog.Any("error", err),
	)
	p.destroyAll(free)
	if cerr := session.Close(); cerr != nil {
		p.logger.Debug("close failed session", slog.Any("error", cerr))
	}
}

// Shutdown closes every pooled page and the session. Safe to call twice.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	session := p.session
	free := p.free
	p.session = nil
	p.free = nil
	p.mu.Unlock()

	p.destroyAll(free)
	if session != nil {
		if err := session.Close(); err != nil {
			p.logger.Warn("close browser session", slog.Any("error", err))
		}
	}
	p.logger.Info("browser pool shut down")
}

// Warmup starts the session, retrying under policy. An error here means the
// browser cannot be used at all.
func (p *Pool) Warmup(ctx context.Context, policy retry.Policy) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		_, err := p.current(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoolClosed) {
			return err
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.Backoff(attempt)
		p.logger.Warn("browser warmup failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("browser warmup: %w", lastErr)
}

// FreeLen reports how many pages are parked in the pool.
func (p *Pool) FreeLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Render loads url in a pooled page and returns its HTML. It lets a
// scraper.Transport retry browser fetches like plain HTTP ones.
func (p *Pool) Render(ctx context.Context, url string, kind scraper.ContentKind) ([]byte, error) {
	if kind != scraper.KindHTML {
		return nil, fmt.Errorf("browser: cannot render %s content", kind)
	}

	h, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.page.Navigate(ctx, url); err != nil {
		p.fail(h, err)
		return nil, err
	}
	body, err := h.page.HTML(ctx)
	if err != nil {
		p.fail(h, err)
		return nil, err
	}
	p.Release(ctx, h)
	return body, nil
}

// fail disposes of a page whose operation errored.
func (p *Pool) fail(h *Handle, err error) {
	p.destroy(h)
	if isSessionFault(err) {
		p.invalidate(h.gen, err)
	}
}

func (p *Pool) stale(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || h.gen != p.gen
}

// destroy closes the page. Page.Close may block, so it never runs under p.mu.
func (p *Pool) destroy(h *Handle) {
	if err := h.page.Close(); err != nil {
		p.logger.Debug("close page", slog.Any("error", err))
	}
	p.metrics.IncPoolPage("destroyed")
}

func (p *Pool) destroyAll(handles []*Handle) {
	for _, h := range handles {
		p.destroy(h)
	}
}
