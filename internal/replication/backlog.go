package replication

import (
	"sync"
	"time"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// DefaultBacklogSize bounds the primary's replication log.
const DefaultBacklogSize = 10000

// Backlog is the primary's bounded in-memory replication log. When the
// bound is exceeded the oldest entries are evicted first.
type Backlog struct {
	mu      sync.Mutex
	entries []domain.ReplicationEntry
	max     int
}

// NewBacklog creates a backlog holding at most max entries. Values
// <= 0 fall back to DefaultBacklogSize.
func NewBacklog(max int) *Backlog {
	if max <= 0 {
		max = DefaultBacklogSize
	}
	return &Backlog{max: max}
}

// Append records (offset, command) with the current timestamp.
func (b *Backlog) Append(offset uint64, command string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, domain.ReplicationEntry{
		Offset:    offset,
		Command:   command,
		CreatedAt: time.Now(),
	})
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
	}
}

// Since returns the retained entries with offset > after, in order.
func (b *Backlog) Since(after uint64) []domain.ReplicationEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Entries are ordered by offset; find the first one past `after`.
	i := 0
	for i < len(b.entries) && b.entries[i].Offset <= after {
		i++
	}
	out := make([]domain.ReplicationEntry, len(b.entries)-i)
	copy(out, b.entries[i:])
	return out
}

// OldestOffset returns the smallest retained offset, or 0 when empty.
func (b *Backlog) OldestOffset() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[0].Offset
}

// Len returns the number of retained entries.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
