package metrics

import "github.com/prometheus/client_golang/prometheus"

// Booking exposes counters and histograms for the booking engine and its workers.
// All methods are safe on a nil receiver.
type Booking struct {
	attempts      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	notifyFailed  *prometheus.CounterVec
	outboxSent    *prometheus.CounterVec
	consumed      *prometheus.CounterVec
	missedMarked  prometheus.Counter
	slotCacheHits *prometheus.CounterVec
}

func NewBooking(reg prometheus.Registerer) *Booking {
	m := &Booking{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking engine operations by outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of booking engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "notify",
			Name:      "emit_failures_total",
			Help:      "Notifications that could not be persisted",
		}, []string{"kind"}),
		outboxSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events relayed to Kafka",
		}, []string{"event_type"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Kafka messages handled by outcome",
		}, []string{"event_type", "outcome"}),
		missedMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "jobs",
			Name:      "missed_marked_total",
			Help:      "Approved appointments moved to missed by the sweeper",
		}),
		slotCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "slots",
			Name:      "cache_lookups_total",
			Help:      "Slot cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attempts, m.latency, m.notifyFailed, m.outboxSent, m.consumed, m.missedMarked, m.slotCacheHits)
	return m
}

func (m *Booking) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

func (m *Booking) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notifyFailed.WithLabelValues(kind).Inc()
}

func (m *Booking) OutboxPublished(eventType string, n int) {
	if m == nil {
		return
	}
	m.outboxSent.WithLabelValues(eventType).Add(float64(n))
}

func (m *Booking) ObserveConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Booking) MissedMarked(n int) {
	if m == nil {
		return
	}
	m.missedMarked.Add(float64(n))
}

func (m *Booking) SlotCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.slotCacheHits.WithLabelValues(result).Inc()
}
