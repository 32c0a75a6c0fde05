package cancel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFireIsIdempotent(t *testing.T) {
	tok := NewToken()
	calls := 0
	tok.OnFire(func(string) { calls++ })

	tok.Fire("first")
	tok.Fire("second")

	assert.Equal(t, 1, calls)
	assert.Equal(t, "first", tok.Reason())
	assert.True(t, tok.Fired())
}

func TestOnFireAfterFireRunsSynchronously(t *testing.T) {
	tok := NewToken()
	tok.Fire("boom")

	var got string
	tok.OnFire(func(reason string) { got = reason })
	assert.Equal(t, "boom", got)
}

func TestChildFiresWithParent(t *testing.T) {
	parent := NewToken()
	child := parent.Child()

	parent.Fire("parent-done")

	assert.True(t, child.Fired())
	assert.Equal(t, "parent-done", child.Reason())
}

func TestConcurrentFireOnlyFiresOnce(t *testing.T) {
	tok := NewToken()
	var calls int
	var mu sync.Mutex
	tok.OnFire(func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Fire("race")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestDoneChannelClosesOnFire(t *testing.T) {
	tok := NewToken()
	select {
	case <-tok.Done():
		t.Fatal("done should not be closed yet")
	default:
	}
	tok.Fire("x")
	select {
	case <-tok.Done():
	default:
		t.Fatal("done should be closed after fire")
	}
}
