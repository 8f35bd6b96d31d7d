package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	k := newKeyLocks()
	var (
		mu      sync.Mutex
		inside  int
		overlap bool
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.lock(context.Background(), "tg:u1:c1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, 0, k.len())
}

func TestKeyLocks_DistinctKeysIndependent(t *testing.T) {
	k := newKeyLocks()
	unlockA, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, k.len())

	unlockB()
	unlockA()
	unlockA()
	assert.Equal(t, 0, k.len())
}

func TestKeyLocks_ContextEndsWait(t *testing.T) {
	k := newKeyLocks()
	unlock, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.len())

	unlock()
	assert.Equal(t, 0, k.len())
}
