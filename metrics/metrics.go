// Package metrics bundles the Prometheus collectors used by the watcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the watcher.
type Metrics struct {
	Registry          *prometheus.Registry
	FetchAttempts     *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ExtractionMisses  *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	PoolPages         *prometheus.CounterVec
	MailboxReconnects prometheus.Counter
	MailboxMessages   *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetchAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_fetch_attempts_total",
			Help: "Fetch attempts issued by the transport, by result.",
		},
		[]string{"result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "belexwatch_fetch_duration_seconds",
			Help:    "Latency of single fetch attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "belexwatch_retries_total",
			Help: "Total number of backoff retries scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_errors_total",
			Help: "Fetch errors by classified type.",
		},
		[]string{"error_type"},
	)
	misses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_extraction_misses_total",
			Help: "Pages where no value could be extracted, by subject kind.",
		},
		[]string{"kind"},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_notifications_total",
			Help: "Notifications handed to the sink, by kind and status.",
		},
		[]string{"kind", "status"},
	)
	poolPages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_pool_pages_total",
			Help: "Browser pool page lifecycle events.",
		},
		[]string{"event"},
	)
	reconnects := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "belexwatch_mailbox_reconnects_total",
			Help: "Mailbox reconnects scheduled.",
		},
	)
	mailboxMessages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "belexwatch_mailbox_messages_total",
			Help: "Inbound mailbox messages handled, by status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(fetchAttempts, fetchDuration, retries, errorsTotal, misses,
		notifications, poolPages, reconnects, mailboxMessages)

	return &Metrics{
		Registry:          registry,
		FetchAttempts:     fetchAttempts,
		FetchDuration:     fetchDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		ExtractionMisses:  misses,
		Notifications:     notifications,
		PoolPages:         poolPages,
		MailboxReconnects: reconnects,
		MailboxMessages:   mailboxMessages,
	}
}

// IncAttempt increments the fetch attempt counter for a result label.
func (m *Metrics) IncAttempt(result string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
}

// ObserveDuration records a fetch attempt duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncMiss records an extraction miss.
func (m *Metrics) IncMiss(kind string) {
	if m == nil {
		return
	}
	m.ExtractionMisses.WithLabelValues(kind).Inc()
}

// IncNotification records a notification attempt.
func (m *Metrics) IncNotification(kind, status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
}

// IncPoolPage records a pool page lifecycle event (created, reused, pooled, destroyed).
func (m *Metrics) IncPoolPage(event string) {
	if m == nil {
		return
	}
	m.PoolPages.WithLabelValues(event).Inc()
}

// IncReconnect records a scheduled mailbox reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.MailboxReconnects.Inc()
}

// IncMailboxMessage records a handled inbound message.
func (m *Metrics) IncMailboxMessage(status string) {
	if m == nil {
		return
	}
	m.MailboxMessages.WithLabelValues(status).Inc()
}
