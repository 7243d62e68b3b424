package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	// Reset default registry for test isolation
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()

	if m.ConnectionsTotal == nil {
		t.Error("ConnectionsTotal is nil")
	}
	if m.ActiveConnections == nil {
		t.Error("ActiveConnections is nil")
	}
	if m.ActiveRooms == nil {
		t.Error("ActiveRooms is nil")
	}
	if m.EventsTotal == nil {
		t.Error("EventsTotal is nil")
	}
	if m.BroadcastsTotal == nil {
		t.Error("BroadcastsTotal is nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal is nil")
	}
	if m.ExecutionsTotal == nil {
		t.Error("ExecutionsTotal is nil")
	}

	// Verify metrics can be used without panic
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Set(5)
	m.ActiveRooms.Set(2)
	m.EventsTotal.WithLabelValues("join").Inc()
	m.EventsTotal.WithLabelValues("code-change").Inc()
	m.BroadcastsTotal.Inc()
	m.ErrorsTotal.WithLabelValues("accept_failure").Inc()
	m.ExecutionsTotal.WithLabelValues("success").Inc()
	m.ExecutionsTotal.WithLabelValues("timeout").Inc()

	// Verify metrics are gathered
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"codeshare_connections_total",
		"codeshare_active_connections",
		"codeshare_active_rooms",
		"codeshare_events_total",
		"codeshare_broadcasts_total",
		"codeshare_errors_total",
		"codeshare_executions_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing metric: %s", name)
		}
	}
}
