// Package mailbox watches an inbox for price requests over one long-lived
// connection, reconnecting with capped backoff when it drops.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
	"github.com/snikic01/BelexEmailerFinal-v1.0/retry"
)

var (
	// ErrDisconnected reports a lost session. It always leads to a reconnect.
	ErrDisconnected = errors.New("mailbox: disconnected")
	// ErrStopped is returned by Run once the watcher has been stopped.
	ErrStopped = errors.New("mailbox: watcher stopped")
)

// State is the watcher's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Polling
	ReconnectScheduled
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Polling:
		return "polling"
	case ReconnectScheduled:
		return "reconnect_scheduled"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Conn is one authenticated mailbox session.
type Conn interface {
	FetchUnseen(ctx context.Context) ([]models.InboundMail, error)
	MarkSeen(ctx context.Context, uid uint32) error
	// Done is closed when the server ends the session.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a session.
type Dialer func(ctx context.Context) (Conn, error)

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg models.InboundMail) error

// Options configures a Watcher.
type Options struct {
	PollInterval time.Duration
	// Reconnect supplies the backoff curve. Its MaxAttempts is the number of
	// consecutive failures tolerated before Cooldown is used.
	Reconnect retry.Policy
	Cooldown  time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Watcher is the mailbox state machine.
type Watcher struct {
	dial    Dialer
	handle  Handler
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	after func(d time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    State
	failures int

	handleMu sync.Mutex

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher builds a watcher. Call Run to start it.
func NewWatcher(dial Dialer, handle Handler, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.Reconnect.MaxAttempts < 1 {
		opts.Reconnect.MaxAttempts = 1
	}
	return &Watcher{
		dial:    dial,
		handle:  handle,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		after:   time.After,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Failures returns the consecutive failure count driving reconnect delays.
func (w *Watcher) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		w.logger.Debug("mailbox state", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run connects and polls until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("mailbox: watcher already running")
	}
	defer close(w.done)
	defer w.setState(Stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(Connecting)
		conn, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("mailbox connect failed", slog.Any("error", err))
			if !w.wait(ctx) {
				return nil
			}
			continue
		}

		w.mu.Lock()
		w.failures = 0
		w.mu.Unlock()
		w.setState(Polling)
		w.logger.Info("mailbox connected")

		err = w.poll(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			w.logger.Debug("mailbox close", slog.Any("error", cerr))
		}
		w.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("mailbox session ended", slog.Any("error", err))
		if !w.wait(ctx) {
			return nil
		}
	}
}

// nextDelay advances the failure counter and returns the reconnect delay.
func (w *Watcher) nextDelay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	if w.failures > w.opts.Reconnect.MaxAttempts {
		w.failures = 0
		return w.opts.Cooldown
	}
	return w.opts.Reconnect.Backoff(w.failures)
}

func (w *Watcher) wait(ctx context.Context) bool {
	delay := w.nextDelay()
	w.setState(ReconnectScheduled)
	w.metrics.IncReconnect()
	w.logger.Info("mailbox reconnect scheduled",
		slog.Duration("delay", delay),
		slog.Int("failures", w.Failures()),
	)
	select {
	case <-ctx.Done():
		return false
	case <-w.after(delay):
		return true
	}
}

// poll checks immediately and then on every tick. A check runs in its own
// goroutine so a server close is noticed while a handler is busy; ticks
// that arrive during a check are dropped. poll returns only once no check
// is running.
func (w *Watcher) poll(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(ctx)
	results := make(chan error, 1)
	running := false
	// The in-flight check sees a cancelled context and is drained before
	// the caller closes conn.
	defer func() {
		cancel()
		if running {
			<-results
		}
	}()
	check := func() {
		running = true
		go func() {
			results <- w.check(ctx, conn)
		}()
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return ErrDisconnected
		case err := <-results:
			running = false
			if err != nil {
				return err
			}
		case <-ticker.C:
			if !running {
				check()
			}
		}
	}
}

func (w *Watcher) check(ctx context.Context, conn Conn) error {
	msgs, err := conn.FetchUnseen(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch: %v", ErrDisconnected, err)
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return nil
		}
		w.dispatch(ctx, msg)
		if err := conn.MarkSeen(ctx, msg.UID); err != nil {
			return fmt.Errorf("%w: mark seen: %v", ErrDisconnected, err)
		}
	}
	return nil
}

// dispatch runs the handler for one message, one at a time across the
// watcher's lifetime. Handler failures never reach the polling loop.
func (w *Watcher) dispatch(ctx context.Context, msg models.InboundMail) {
	w.handleMu.Lock()
	defer w.handleMu.Unlock()

	log := w.logger.With(
		slog.String("message_id", msg.MessageID),
		slog.String("subject", msg.Subject),
	)
	defer func() {
		if r := recover(); r != nil {
			w.metrics.IncMailboxMessage("panic")
			log.Error("mailbox handler panicked", slog.Any("panic", r))
		}
	}()

	if err := w.handle(ctx, msg); err != nil {
		w.metrics.IncMailboxMessage("error")
		log.Warn("mailbox handler failed", slog.Any("error", err))
		return
	}
	w.metrics.IncMailboxMessage("handled")
}

// Stop ends Run and waits for it to return. It may be called any number of
// times, before or after Run.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.done
	}
	w.setState(Stopped)
}
