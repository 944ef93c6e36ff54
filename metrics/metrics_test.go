package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nilm987521/fep/connmgr"
	"github.com/nilm987521/fep/metrics"
)

func TestRegisterExposesEveryCollector(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	m.PendingOutcomes.WithLabelValues("completed").Inc()
	m.PendingCount.Set(3)
	m.PipelineStage.WithLabelValues("validate").Observe(0.01)
	m.ConnectionState.WithLabelValues("ch-1", "CONNECTED").Set(1)
	m.TransactionStatus.WithLabelValues("APPROVED").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"fep_pending_outcomes_total",
		"fep_pending_count",
		"fep_pipeline_stage_duration_seconds",
		"fep_channel_state",
		"fep_txn_status_total",
	} {
		if !names[want] {
			t.Fatalf("expected metric family %q to be registered, got %v", want, names)
		}
	}
}

func TestConnMgrListenerMirrorsStateChanges(t *testing.T) {
	t.Parallel()
	m := metrics.NewRegistry()
	listener := m.ConnMgrListener()

	listener(connmgr.Event{Kind: connmgr.EventStateChanged, ChannelID: "ch-1", From: "", To: "CONNECTING"})
	listener(connmgr.Event{Kind: connmgr.EventStateChanged, ChannelID: "ch-1", From: "CONNECTING", To: "CONNECTED"})

	var connected, connecting dto.Metric
	if err := m.ConnectionState.WithLabelValues("ch-1", "CONNECTED").Write(&connected); err != nil {
		t.Fatalf("write connected: %v", err)
	}
	if connected.GetGauge().GetValue() != 1 {
		t.Fatalf("CONNECTED gauge = %v, want 1", connected.GetGauge().GetValue())
	}
	if err := m.ConnectionState.WithLabelValues("ch-1", "CONNECTING").Write(&connecting); err != nil {
		t.Fatalf("write connecting: %v", err)
	}
	if connecting.GetGauge().GetValue() != 0 {
		t.Fatalf("CONNECTING gauge = %v, want 0 after transition away", connecting.GetGauge().GetValue())
	}
}

func TestPendingCountReflectsLatestSet(t *testing.T) {
	t.Parallel()
	m := metrics.NewRegistry()
	m.PendingCount.Set(5)
	var out dto.Metric
	if err := m.PendingCount.Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.GetGauge().GetValue() != 5 {
		t.Fatalf("pending count = %v, want 5", out.GetGauge().GetValue())
	}
}
