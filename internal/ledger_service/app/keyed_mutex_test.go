package app

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	key := uuid.New()

	var wg sync.WaitGroup
	inside, maxInside := 0, 0
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			defer unlock()
			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, k.size(), "idle keys are released")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock(uuid.New())
	unlockB := k.Lock(uuid.New())
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
