// Package skiplist implements the ordered in-memory index backing the
// LeapCache keyspace.
//
// The index is a probabilistic leveled ordered map over (int64 key,
// []byte value). Expected cost of search, insert, and delete is
// O(log n). All operations serialize on a single structure-wide mutex;
// callers needing cross-operation atomicity (mutate + log + replicate)
// hold their own lock above this one.
package skiplist
