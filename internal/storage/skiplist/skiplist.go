package skiplist

import (
	"sync"

	"github.com/zhangyunhao116/fastrand"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// DefaultMaxLevel caps node levels when no explicit cap is configured.
const DefaultMaxLevel = 18

type node struct {
	key     int64
	value   []byte
	forward []*node
}

func newNode(key int64, value []byte, level int) *node {
	return &node{
		key:     key,
		value:   value,
		forward: make([]*node, level+1),
	}
}

// SkipList is a leveled ordered map from int64 keys to byte-string values.
// The zero value is not usable; construct with New.
type SkipList struct {
	mu       sync.Mutex
	maxLevel int
	level    int // highest currently populated level
	head     *node
	length   int
}

// New creates an empty skiplist with node levels capped at maxLevel.
// Values <= 0 fall back to DefaultMaxLevel.
func New(maxLevel int) *SkipList {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return &SkipList{
		maxLevel: maxLevel,
		head:     newNode(0, nil, maxLevel),
	}
}

// randomLevel draws a node level by flipping a fair coin until tails,
// capped at maxLevel. The resulting distribution is geometric with
// mean level 2.
func (s *SkipList) randomLevel() int {
	lvl := 0
	for lvl < s.maxLevel && fastrand.Uint32()&1 == 1 {
		lvl++
	}
	return lvl
}

// findPredecessors descends from the highest populated level, recording
// the rightmost node with key < k at each level.
func (s *SkipList) findPredecessors(k int64, update []*node) *node {
	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && x.forward[i].key < k {
			x = x.forward[i]
		}
		update[i] = x
	}
	return x.forward[0]
}

// Insert adds (k, v) to the index. Inserting a key that is already
// present does not overwrite; it returns domain.ErrKeyExists and the
// stored value is unchanged.
func (s *SkipList) Insert(k int64, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*node, s.maxLevel+1)
	next := s.findPredecessors(k, update)
	if next != nil && next.key == k {
		return domain.ErrKeyExists.WithDetails(domain.FormatKey(k))
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}

	n := newNode(k, v, lvl)
	for i := 0; i <= lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.length++
	return nil
}

// Get returns the value stored under k.
func (s *SkipList) Get(k int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x := s.head
	for i := s.level; i >= 0; i-- {
		for x.forward[i] != nil && x.forward[i].key < k {
			x = x.forward[i]
		}
	}
	x = x.forward[0]
	if x != nil && x.key == k {
		return x.value, true
	}
	return nil, false
}

// Has reports whether k is present.
func (s *SkipList) Has(k int64) bool {
	_, ok := s.Get(k)
	return ok
}

// Delete removes k from the index. Deleting an absent key is a no-op;
// the return value reports whether a node was unlinked.
func (s *SkipList) Delete(k int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*node, s.maxLevel+1)
	next := s.findPredecessors(k, update)
	if next == nil || next.key != k {
		return false
	}

	for i := 0; i <= s.level; i++ {
		if update[i].forward[i] != next {
			break
		}
		update[i].forward[i] = next.forward[i]
	}
	for s.level > 0 && s.head.forward[s.level] == nil {
		s.level--
	}
	s.length--
	return true
}

// Len returns the number of entries.
func (s *SkipList) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Clear re-initializes the index to the empty state.
func (s *SkipList) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = newNode(0, nil, s.maxLevel)
	s.level = 0
	s.length = 0
}

// Ascend walks level 0 in ascending key order, invoking fn for each
// entry until fn returns false. The walk holds the index lock; fn must
// not call back into the skiplist.
func (s *SkipList) Ascend(fn func(k int64, v []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for x := s.head.forward[0]; x != nil; x = x.forward[0] {
		if !fn(x.key, x.value) {
			return
		}
	}
}

// Entries returns a snapshot of all entries in ascending key order.
func (s *SkipList) Entries() []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Entry, 0, s.length)
	for x := s.head.forward[0]; x != nil; x = x.forward[0] {
		out = append(out, domain.Entry{Key: x.key, Value: x.value})
	}
	return out
}

// MaxLevel returns the configured level cap.
func (s *SkipList) MaxLevel() int {
	return s.maxLevel
}
