package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncAttempt("success")
	m.IncRetries()
	m.IncError("timeout")
	m.IncMiss("price")
	m.IncNotification("price", "sent")
	m.IncPoolPage("created")
	m.IncReconnect()
	m.IncMailboxMessage("handled")
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.IncAttempt("transient")
	m.IncAttempt("transient")
	m.IncRetries()
	m.IncNotification("news", "sent")

	if got := testutil.ToFloat64(m.FetchAttempts.WithLabelValues("transient")); got != 2 {
		t.Fatalf("transient attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal); got != 1 {
		t.Fatalf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("news", "sent")); got != 1 {
		t.Fatalf("notifications = %v, want 1", got)
	}
}
