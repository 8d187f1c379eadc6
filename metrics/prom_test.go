package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	m.JobsClaimed(3)
	m.JobCompleted("reminders")
	m.JobCompleted("reminders")
	m.JobRetried("reminders")
	m.HandleLatency("reminders", 20*time.Millisecond)
	m.Delivered("ntfy")
	m.DeliveryFailed("webpush")

	if got := testutil.ToFloat64(m.claimed); got != 3 {
		t.Errorf("expected 3 claimed, got %v", got)
	}
	if got := testutil.ToFloat64(m.completed.WithLabelValues("reminders")); got != 2 {
		t.Errorf("expected 2 completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveryFailed.WithLabelValues("webpush")); got != 1 {
		t.Errorf("expected 1 failed delivery, got %v", got)
	}
	if n := testutil.CollectAndCount(m.handleLatency); n != 1 {
		t.Errorf("expected 1 latency series, got %d", n)
	}
}
