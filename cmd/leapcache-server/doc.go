// Package main provides the entry point for leapcache-server, the
// RESP-speaking in-memory ordered key-value server with AOF
// durability, periodic snapshots, and primary→follower replication.
package main
