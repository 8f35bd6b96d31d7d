package recovery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(msg string) Record { return Record{Message: msg} }

func TestRingLog_EvictsOldestFirst(t *testing.T) {
	l := NewRingLog(3)
	for i := 1; i <= 5; i++ {
		l.Append(rec(fmt.Sprintf("e%d", i)))
	}

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "e3", snap[0].Message)
	assert.Equal(t, "e5", snap[2].Message)
	assert.Equal(t, int64(5), l.Total())
	assert.Equal(t, 3, l.Cap())
}

func TestRingLog_Recent(t *testing.T) {
	l := NewRingLog(10)
	l.Append(rec("a"))
	l.Append(rec("b"))
	l.Append(rec("c"))

	r := l.Recent(2)
	require.Len(t, r, 2)
	assert.Equal(t, "c", r[0].Message)
	assert.Equal(t, "b", r[1].Message)
	assert.Len(t, l.Recent(50), 3)
	assert.Empty(t, l.Recent(0))
	assert.Empty(t, l.Recent(-1))
}

func TestRingLog_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultLogCapacity, NewRingLog(0).Cap())
}

func TestRingLog_ConcurrentAppend(t *testing.T) {
	l := NewRingLog(100)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Append(rec("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, l.Len())
	assert.Equal(t, int64(500), l.Total())
}

func TestRingLog_Clear(t *testing.T) {
	l := NewRingLog(2)
	l.Append(rec("a"))
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Snapshot())
}
