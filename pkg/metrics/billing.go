package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subsync"

// Webhook outcomes.
const (
	WebhookAccepted         = "accepted"
	WebhookIgnored          = "ignored"
	WebhookMalformed        = "malformed"
	WebhookInvalidSignature = "invalid_signature"
	WebhookDispatchFailed   = "dispatch_failed"
)

// Sync outcomes.
const (
	SyncSucceeded      = "success"
	SyncNotMapped      = "not_mapped"
	SyncProviderFailed = "provider_error"
	SyncStoreFailed    = "store_error"
)

// BillingMetrics records webhook intake and reconciliation health.
type BillingMetrics struct {
	webhooks     *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	dropped      prometheus.Counter
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
// A nil registerer yields a recorder that drops everything.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Stripe webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Customer synchronizations by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of customer synchronizations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"trigger"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconcile_queue_depth",
		Help:      "Reconcile tasks waiting for an in-process worker.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_tasks_dropped_total",
		Help:      "Reconcile tasks rejected because the queue was full or closed.",
	})
	reg.MustRegister(webhooks, syncs, syncDuration, queueDepth, dropped)
	return &BillingMetrics{
		webhooks:     webhooks,
		syncs:        syncs,
		syncDuration: syncDuration,
		queueDepth:   queueDepth,
		dropped:      dropped,
	}
}

// IncWebhook counts one webhook delivery.
func (b *BillingMetrics) IncWebhook(eventType, outcome string) {
	if b == nil || b.webhooks == nil {
		return
	}
	b.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveSync records a finished synchronization.
func (b *BillingMetrics) ObserveSync(trigger, outcome string, duration time.Duration) {
	if b == nil || b.syncs == nil {
		return
	}
	b.syncs.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
	b.syncDuration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

// AddQueueDepth moves the queue depth gauge by delta.
func (b *BillingMetrics) AddQueueDepth(delta float64) {
	if b == nil || b.queueDepth == nil {
		return
	}
	b.queueDepth.Add(delta)
}

// IncDropped counts a task that never reached a worker.
func (b *BillingMetrics) IncDropped() {
	if b == nil || b.dropped == nil {
		return
	}
	b.dropped.Inc()
}
