package mutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializesSameKey(t *testing.T) {
	var km KeyedMutex

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("key")
			counter++
			km.Unlock("key")
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	var km KeyedMutex

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestEntriesReleased(t *testing.T) {
	var km KeyedMutex

	km.Lock("a")
	km.Unlock("a")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.entries)
}
