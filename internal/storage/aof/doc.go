// Package aof implements the append-only command log used for crash
// recovery.
//
// Each accepted mutation is one newline-terminated text line holding
// the command verb and its arguments in display form. On startup the
// log is replayed through the dispatcher to reconstruct the keyspace.
// The format is whitespace-split text and therefore not binary-safe;
// values containing spaces or newlines will not round-trip.
package aof
