package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PromMetrics struct {
	claimed        prometheus.Counter
	completed      *prometheus.CounterVec
	retried        *prometheus.CounterVec
	failed         *prometheus.CounterVec
	handleLatency  *prometheus.HistogramVec
	delivered      *prometheus.CounterVec
	deliveryFailed *prometheus.CounterVec
}

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_jobs_claimed_total",
			Help: "Number of claimed jobs",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_jobs_completed_total",
			Help: "Number of jobs handled successfully",
		}, []string{"queue"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_jobs_retried_total",
			Help: "Number of failed job attempts scheduled for retry",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_jobs_failed_total",
			Help: "Number of jobs that exhausted their attempts",
		}, []string{"queue"}),
		handleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reminder_job_handle_seconds",
			Help:    "Latency of job handlers",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_notifications_delivered_total",
			Help: "Number of notifications delivered to a subscription",
		}, []string{"kind"}),
		deliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_notifications_failed_total",
			Help: "Number of failed notification deliveries",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.claimed, m.completed, m.retried, m.failed, m.handleLatency, m.delivered, m.deliveryFailed)
	return m
}

func (m *PromMetrics) JobsClaimed(n int) {
	m.claimed.Add(float64(n))
}
func (m *PromMetrics) JobCompleted(queue string) {
	m.completed.WithLabelValues(queue).Inc()
}
func (m *PromMetrics) JobRetried(queue string) {
	m.retried.WithLabelValues(queue).Inc()
}
func (m *PromMetrics) JobFailed(queue string) {
	m.failed.WithLabelValues(queue).Inc()
}
func (m *PromMetrics) HandleLatency(queue string, d time.Duration) {
	m.handleLatency.WithLabelValues(queue).Observe(d.Seconds())
}
func (m *PromMetrics) Delivered(kind string) {
	m.delivered.WithLabelValues(kind).Inc()
}
func (m *PromMetrics) DeliveryFailed(kind string) {
	m.deliveryFailed.WithLabelValues(kind).Inc()
}
