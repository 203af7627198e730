package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.CommandsTotal.WithLabelValues("SET").Inc()
	r.CommandsTotal.WithLabelValues("SET").Inc()
	r.CommandsTotal.WithLabelValues("GET").Inc()

	if got := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("SET")); got != 2 {
		t.Fatalf("SET counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.CommandsTotal.WithLabelValues("GET")); got != 1 {
		t.Fatalf("GET counter = %v, want 1", got)
	}
}

func TestRegistryGauges(t *testing.T) {
	r := NewRegistry()

	r.ConnectedClients.Inc()
	r.ConnectedClients.Inc()
	r.ConnectedClients.Dec()
	if got := testutil.ToFloat64(r.ConnectedClients); got != 1 {
		t.Fatalf("ConnectedClients = %v, want 1", got)
	}

	r.Keys.Set(42)
	if got := testutil.ToFloat64(r.Keys); got != 42 {
		t.Fatalf("Keys = %v, want 42", got)
	}

	r.ReplicationOffset.Set(7)
	r.ReplicationFollowers.Set(2)
	r.ReplicationLag.Set(1.5)
	if got := testutil.ToFloat64(r.ReplicationLag); got != 1.5 {
		t.Fatalf("ReplicationLag = %v, want 1.5", got)
	}
}

func TestGatherer(t *testing.T) {
	r := NewRegistry()
	r.AOFAppendsTotal.Inc()

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "leapcache_aof_appends_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("aof_appends_total not exported")
	}
}
