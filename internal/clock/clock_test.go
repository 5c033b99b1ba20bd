package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(10 * time.Second)
	assert.Equal(t, 1, f.Waiters())

	f.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	f.Advance(5 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(10*time.Second), at)
	default:
		t.Fatal("did not fire")
	}
	assert.Equal(t, 0, f.Waiters())

	select {
	case <-f.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}
