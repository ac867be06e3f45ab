package rotif

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsSet_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsSet(reg)

	m.published.WithLabelValues("orders.*", "ok").Inc()
	m.consumed.WithLabelValues("orders.*", "ok").Inc()
	m.retried.WithLabelValues("orders.*").Inc()
	m.dlqMoved.WithLabelValues("orders.*").Inc()
	m.scheduledPromoted.Add(3)
	m.scheduledDepth.Set(5)
	m.consumerLag.WithLabelValues("rotif:stream:orders.*", "rotif-group").Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"rotif_messages_published_total",
		"rotif_messages_consumed_total",
		"rotif_messages_retried_total",
		"rotif_messages_dlq_total",
		"rotif_scheduled_promoted_total",
		"rotif_scheduled_depth",
		"rotif_consumer_pending",
	} {
		if !names[want] {
			t.Errorf("registry missing expected metric family %q", want)
		}
	}
}

func TestNewMetricsSet_NilRegistererIsSafe(t *testing.T) {
	m := newMetricsSet(nil)
	// Must not panic even though nothing is registered.
	m.scheduledPromoted.Add(1)
	if got := metricValue(t, m.scheduledPromoted); got != 1 {
		t.Errorf("scheduledPromoted = %v, want 1", got)
	}
}

func metricValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}
