package rotif

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// metricsSet holds the broker's Prometheus instrumentation. Metrics are not
// excluded by any non-goal, so the broker carries the same observability
// stack its teacher does for its own domain.
type metricsSet struct {
	published         *prometheus.CounterVec
	consumed          *prometheus.CounterVec
	retried           *prometheus.CounterVec
	dlqMoved          *prometheus.CounterVec
	scheduledPromoted prometheus.Counter
	scheduledDepth    prometheus.Gauge
	consumerLag       *prometheus.GaugeVec
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotif_messages_published_total",
			Help: "Total messages published, labeled by pattern and outcome.",
		}, []string{"pattern", "outcome"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotif_messages_consumed_total",
			Help: "Total messages dispatched to subscription handlers, labeled by pattern and outcome.",
		}, []string{"pattern", "outcome"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotif_messages_retried_total",
			Help: "Total retry scheduling operations, labeled by pattern.",
		}, []string{"pattern"}),
		dlqMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotif_messages_dlq_total",
			Help: "Total messages moved to the dead-letter queue, labeled by pattern.",
		}, []string{"pattern"}),
		scheduledPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rotif_scheduled_promoted_total",
			Help: "Total scheduled entries promoted to their destination stream.",
		}),
		scheduledDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotif_scheduled_depth",
			Help: "Current size of the scheduled set.",
		}),
		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rotif_consumer_pending",
			Help: "Pending entry count per (stream, group), from XPENDING.",
		}, []string{"stream", "group"}),
	}

	if reg != nil {
		reg.MustRegister(m.published, m.consumed, m.retried, m.dlqMoved, m.scheduledPromoted, m.scheduledDepth, m.consumerLag)
	}
	return m
}

var tracer = otel.Tracer("rotif")

// startSpan is a small indirection so callers don't need to import otel
// directly; kept as a function value (not a method) since it has no state.
var startSpan = tracer.Start

var _ trace.Tracer = tracer
