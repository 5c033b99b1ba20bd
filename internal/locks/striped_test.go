package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStriped_SerializesPartition(t *testing.T) {
	s := NewStriped(8)
	key := Key("bucket", "k")

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(key)
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestStriped_SharedStripeDoesNotDeadlock(t *testing.T) {
	// One stripe forces every key onto the same mutex.
	s := NewStriped(1)
	unlock := s.Lock("a", "b", "c")
	unlock()

	runlock := s.RLock("a", "b")
	runlock()
}

func TestStriped_IndexesSortedAndUnique(t *testing.T) {
	s := NewStriped(4)
	idx := s.indexes([]string{"x", "y", "z", "x", "w", "v"})
	for i := 1; i < len(idx); i++ {
		assert.Less(t, idx[i-1], idx[i])
	}
}
