// Package service implements the keyspace operations behind the
// command dispatcher.
//
// The store serializes each mutation together with its AOF append and
// replication enqueue under a single critical section, so in-memory
// order, log order, and stream order always agree.
package service
