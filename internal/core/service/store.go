package service

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/yndnr/leapcache-go/internal/core/domain"
	"github.com/yndnr/leapcache-go/internal/replication"
	"github.com/yndnr/leapcache-go/internal/storage/aof"
	"github.com/yndnr/leapcache-go/internal/storage/skiplist"
	"github.com/yndnr/leapcache-go/internal/storage/snapshot"
	"github.com/yndnr/leapcache-go/internal/telemetry/metric"
)

// Mode controls the side effects of a mutation.
type Mode struct {
	// AppendAOF appends the accepted mutation to the AOF.
	AppendAOF bool
	// Propagate enqueues the mutation for replication (primary only).
	Propagate bool
}

var (
	// ModeClient is the normal client-command path.
	ModeClient = Mode{AppendAOF: true, Propagate: true}
	// ModeReplica applies a replicated command: durable locally, never
	// re-replicated.
	ModeReplica = Mode{AppendAOF: true, Propagate: false}
	// ModeReplay applies an AOF record at boot with all side effects
	// suppressed.
	ModeReplay = Mode{}
)

// Store owns the ordered index and coordinates durability and
// replication for every accepted mutation.
type Store struct {
	// mu serializes a mutation with its AOF append and replication
	// enqueue. It is never held across client I/O.
	mu sync.Mutex

	index     *skiplist.SkipList
	aofLog    *aof.Log
	repl      *replication.Manager
	snapshots *snapshot.Manager
	stats     *Stats
	metrics   *metric.Registry
	logger    *slog.Logger
}

// NewStore creates the store. aofLog, snapshots, and repl may each be
// nil when the corresponding subsystem is disabled; repl is usually
// attached later via SetReplicator.
func NewStore(index *skiplist.SkipList, aofLog *aof.Log, snapshots *snapshot.Manager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		index:     index,
		aofLog:    aofLog,
		snapshots: snapshots,
		stats:     NewStats(),
		logger:    logger,
	}
}

// SetReplicator attaches the replication manager. Called once during
// wiring, before the server accepts connections.
func (s *Store) SetReplicator(repl *replication.Manager) {
	s.mu.Lock()
	s.repl = repl
	s.mu.Unlock()
}

// SetMetrics attaches the metrics registry.
func (s *Store) SetMetrics(m *metric.Registry) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// afterMutation records an accepted mutation's side effects. Callers
// hold s.mu.
func (s *Store) afterMutation(m Mode, verb string, args ...[]byte) {
	record := aof.FormatRecord(verb, args)
	if m.AppendAOF && s.aofLog != nil {
		if err := s.aofLog.AppendLine(record); err != nil {
			s.logger.Error("aof append failed", "record", record, "error", err)
		} else if s.metrics != nil {
			s.metrics.AOFAppendsTotal.Inc()
		}
	}
	if m.Propagate && s.repl != nil {
		s.repl.Propagate(record)
	}
}

// Set inserts (k, v). A key that is already present is not
// overwritten; domain.ErrKeyExists is returned and nothing is logged
// or replicated.
func (s *Store) Set(k int64, v []byte, m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Insert(k, v); err != nil {
		return err
	}
	s.afterMutation(m, "SET", []byte(domain.FormatKey(k)), v)
	return nil
}

// Get returns the value stored under k.
func (s *Store) Get(k int64) ([]byte, bool) {
	return s.index.Get(k)
}

// Exists reports whether k is present.
func (s *Store) Exists(k int64) bool {
	return s.index.Has(k)
}

// Delete removes k. The deletion is logged and replicated whether or
// not the key was present, matching the observed wire contract.
func (s *Store) Delete(k int64, m Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := s.index.Delete(k)
	s.afterMutation(m, "DEL", []byte(domain.FormatKey(k)))
	return existed
}

// Flush clears the keyspace.
func (s *Store) Flush(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Clear()
	s.afterMutation(m, "FLUSH")
}

// Keys returns all keys matching the glob pattern, ascending. An
// empty pattern matches everything.
func (s *Store) Keys(pattern string) []int64 {
	var out []int64
	s.index.Ascend(func(k int64, _ []byte) bool {
		if pattern == "" || pattern == "*" || matchGlob(pattern, domain.FormatKey(k)) {
			out = append(out, k)
		}
		return true
	})
	return out
}

// Len returns the number of keys.
func (s *Store) Len() int {
	return s.index.Len()
}

// Save dumps a snapshot, when snapshotting is configured.
func (s *Store) Save() error {
	if s.snapshots == nil {
		return domain.ErrStorage.WithDetails("snapshots disabled")
	}
	return s.snapshots.Save()
}

// LoadSnapshot loads the snapshot file into the keyspace.
func (s *Store) LoadSnapshot() error {
	if s.snapshots == nil {
		return domain.ErrStorage.WithDetails("snapshots disabled")
	}
	return s.snapshots.Load()
}

// Replication returns the attached replication manager; may be nil.
func (s *Store) Replication() *replication.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repl
}

// Stats returns the server statistics collector.
func (s *Store) Stats() *Stats {
	return s.stats
}

// AOFEnabled reports whether the store carries an open AOF.
func (s *Store) AOFEnabled() bool {
	return s.aofLog != nil
}

// matchGlob matches s against a glob pattern where '*' matches any
// run of characters.
func matchGlob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return s == ""
	}
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	parts := strings.Split(pattern, "*")

	// First part must be a prefix (if not empty).
	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	// Middle parts must appear in order.
	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	// Last part must be a suffix (if not empty).
	if last := parts[len(parts)-1]; last != "" {
		return strings.HasSuffix(s, last)
	}
	return true
}
