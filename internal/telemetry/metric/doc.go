// Package metric exposes Prometheus metrics for LeapCache: command
// rates, connected clients, keyspace size, and replication progress.
package metric
