// Package snapshot persists point-in-time dumps of the keyspace.
//
// A snapshot file holds one entry per line in level-0 (ascending key)
// order, formatted "<key>:<value>;". Writes go through a temp file and
// an atomic rename so a crashed dump never clobbers the previous
// snapshot.
package snapshot
