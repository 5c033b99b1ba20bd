// Package locks provides partition-scoped mutual exclusion. A partition is
// any string key (a bucket/key pair, a queue, a table); keys hash onto a fixed
// set of stripes so memory stays bounded while unrelated partitions rarely
// contend.
package locks

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 256

type Striped struct {
	stripes []sync.RWMutex
}

func NewStriped(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.RWMutex, n)}
}

// Key joins partition components with a separator that cannot appear in
// validated resource names.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (s *Striped) index(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.stripes)))
}

// indexes returns the distinct stripe indexes for keys in ascending order.
// Acquiring in this order keeps multi-partition locking deadlock free, and
// deduplication avoids self-deadlock when two keys share a stripe.
func (s *Striped) indexes(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := s.index(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Lock exclusively locks the partitions named by keys and returns the unlock
// function.
func (s *Striped) Lock(keys ...string) func() {
	idx := s.indexes(keys)
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].Unlock()
		}
	}
}

// RLock takes shared locks on the partitions named by keys.
func (s *Striped) RLock(keys ...string) func() {
	idx := s.indexes(keys)
	for _, i := range idx {
		s.stripes[i].RLock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].RUnlock()
		}
	}
}
