package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all application metrics, registered against one
// prometheus.Registry so tests can scrape in isolation.
type Registry struct {
	reg *prometheus.Registry

	// Command metrics
	CommandsTotal *prometheus.CounterVec

	// Client metrics
	ConnectedClients prometheus.Gauge

	// Keyspace metrics
	Keys prometheus.Gauge

	// Durability metrics
	AOFAppendsTotal prometheus.Counter

	// Replication metrics
	ReplicationOffset    prometheus.Gauge
	ReplicationFollowers prometheus.Gauge
	ReplicationLag       prometheus.Gauge
}

// NewRegistry creates and registers all application metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leapcache",
			Name:      "commands_total",
			Help:      "Commands dispatched, by verb.",
		}, []string{"verb"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leapcache",
			Name:      "connected_clients",
			Help:      "Open client connections.",
		}),
		Keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leapcache",
			Name:      "keys",
			Help:      "Entries in the keyspace.",
		}),
		AOFAppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leapcache",
			Name:      "aof_appends_total",
			Help:      "Records appended to the AOF.",
		}),
		ReplicationOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leapcache",
			Name:      "replication_offset",
			Help:      "Current replication offset.",
		}),
		ReplicationFollowers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leapcache",
			Name:      "replication_followers",
			Help:      "Online followers.",
		}),
		ReplicationLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leapcache",
			Name:      "replication_lag",
			Help:      "Average follower lag in offsets.",
		}),
	}

	reg.MustRegister(
		r.CommandsTotal,
		r.ConnectedClients,
		r.Keys,
		r.AOFAppendsTotal,
		r.ReplicationOffset,
		r.ReplicationFollowers,
		r.ReplicationLag,
	)
	return r
}

// Gatherer returns the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
