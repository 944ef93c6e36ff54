// Package metrics exposes Prometheus counters/gauges for pending-registry
// outcomes, pipeline stage durations, and per-channel connection state.
// Collectors are registered once against a caller-supplied Registerer so
// tests can use a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilm987521/fep/connmgr"
	"github.com/nilm987521/fep/pending"
)

// Registry groups every metric this core exposes. Callers register it
// once against a prometheus.Registerer (typically the default registry,
// served by the host binary's /metrics endpoint).
type Registry struct {
	PendingOutcomes   *prometheus.CounterVec
	PendingCount      prometheus.Gauge
	PipelineStage     *prometheus.HistogramVec
	ConnectionState   *prometheus.GaugeVec
	TransactionStatus *prometheus.CounterVec
}

// NewRegistry builds a Registry. Pass it to Register to expose its
// metrics, or use it unregistered in tests.
func NewRegistry() *Registry {
	return &Registry{
		PendingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "pending",
			Name:      "outcomes_total",
			Help:      "Pending-request registry outcomes by kind (registered, completed, timeout, cancelled).",
		}, []string{"outcome"}),
		PendingCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "pending",
			Name:      "count",
			Help:      "Current count of outstanding pending requests across all registries.",
		}),
		PipelineStage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fep",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fep",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Current endpoint state per channel, 1 for the active state and 0 otherwise.",
		}, []string{"channel_id", "state"}),
		TransactionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fep",
			Subsystem: "txn",
			Name:      "status_total",
			Help:      "Transactions audited by final status.",
		}, []string{"status"}),
	}
}

// ConnMgrListener returns a connmgr.Listener that mirrors channel
// lifecycle events onto ConnectionState: the new state is set to 1 and,
// for EventStateChanged, the prior state is cleared back to 0.
// Registered via connmgr.Manager.AddListener.
func (r *Registry) ConnMgrListener() connmgr.Listener {
	return func(ev connmgr.Event) {
		switch ev.Kind {
		case connmgr.EventStateChanged:
			if ev.From != "" {
				r.ConnectionState.WithLabelValues(ev.ChannelID, ev.From).Set(0)
			}
			r.ConnectionState.WithLabelValues(ev.ChannelID, ev.To).Set(1)
		case connmgr.EventRemoved:
			r.ConnectionState.DeletePartialMatch(prometheus.Labels{"channel_id": ev.ChannelID})
		}
	}
}

// PendingSampler converts the pending registries' cumulative Stats into
// PendingOutcomes counter increments. Callers poll their registries,
// aggregate the Stats, and hand each snapshot to Sample; the sampler
// remembers the previous snapshot and emits only the delta. Not safe for
// concurrent use; run one sampler per polling loop.
type PendingSampler struct {
	r    *Registry
	last pending.Stats
}

// NewPendingSampler builds a sampler feeding r.
func (r *Registry) NewPendingSampler() *PendingSampler {
	return &PendingSampler{r: r}
}

// Sample records one aggregated snapshot: outstanding becomes the
// PendingCount gauge, and any counter growth since the previous snapshot
// is added to PendingOutcomes. Shrinking counters (an endpoint was
// removed between polls) contribute nothing rather than going negative.
func (s *PendingSampler) Sample(st pending.Stats, outstanding int) {
	s.r.PendingCount.Set(float64(outstanding))
	add := func(outcome string, cur, prev uint64) {
		if cur > prev {
			s.r.PendingOutcomes.WithLabelValues(outcome).Add(float64(cur - prev))
		}
	}
	add("registered", st.Registered, s.last.Registered)
	add("completed", st.Completed, s.last.Completed)
	add("timeout", st.TimedOut, s.last.TimedOut)
	add("cancelled", st.Cancelled, s.last.Cancelled)
	s.last = st
}

// Register registers every metric in r against reg.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.PendingOutcomes, r.PendingCount, r.PipelineStage, r.ConnectionState, r.TransactionStatus,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
