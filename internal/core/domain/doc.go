// Package domain defines the core domain models for LeapCache:
// keyspace entries, replication roles and link states, and the
// structured error taxonomy shared by every subsystem.
package domain
