package stock

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferFoldSumsUntilDrain(t *testing.T) {
	buf := NewBuffer()
	for _, q := range []int64{2, 3, 1} {
		require.True(t, buf.Fold(1, q))
	}
	buf.Fold(2, 4)

	drained := buf.DrainAll()

	assert.Equal(t, map[int64]int64{1: 6, 2: 4}, drained)
	assert.Zero(t, buf.Len())
	assert.Nil(t, buf.DrainAll())
}

func TestBufferIgnoresInvalidFolds(t *testing.T) {
	buf := NewBuffer()
	buf.Fold(1, 5)

	assert.False(t, buf.Fold(1, 0))
	assert.False(t, buf.Fold(1, -3))
	assert.False(t, buf.Fold(0, 2))
	assert.False(t, buf.Fold(-1, 2))

	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, int64(5), buf.Pending(1))
}

func TestBufferRejectsFoldThatWouldOverflow(t *testing.T) {
	buf := NewBuffer()
	require.True(t, buf.Fold(1, math.MaxInt64-1))

	assert.False(t, buf.Fold(1, 2))
	assert.Equal(t, int64(math.MaxInt64-1), buf.Pending(1))
	assert.True(t, buf.Fold(1, 1))

	assert.Equal(t, map[int64]int64{1: math.MaxInt64}, buf.DrainAll())
	assert.True(t, buf.Fold(1, 2), "a fresh cycle accepts the fold again")
}

func TestBufferFoldAfterDrainStartsNextCycle(t *testing.T) {
	buf := NewBuffer()
	buf.Fold(1, 3)
	first := buf.DrainAll()
	buf.Fold(1, 2)

	assert.Equal(t, int64(3), first[1])
	assert.Equal(t, map[int64]int64{1: 2}, buf.DrainAll())
}

// Every folded unit must appear in exactly one drain, whatever the interleaving.
func TestBufferConcurrentFoldAndDrainConservesTotal(t *testing.T) {
	const (
		folders     = 8
		foldsEach   = 2000
		productSpan = 5
	)
	buf := NewBuffer()

	var (
		wg      sync.WaitGroup
		drained = make(map[int64]int64)
		done    = make(chan struct{})
		drainMu sync.Mutex
	)
	collect := func(m map[int64]int64) {
		drainMu.Lock()
		defer drainMu.Unlock()
		for id, q := range m {
			drained[id] += q
		}
	}

	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-done:
				return
			default:
				collect(buf.DrainAll())
			}
		}
	}()

	for f := 0; f < folders; f++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < foldsEach; i++ {
				buf.Fold(int64(i%productSpan)+1, 1)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-drainerDone
	collect(buf.DrainAll())

	var total int64
	for _, q := range drained {
		total += q
	}
	assert.Equal(t, int64(folders*foldsEach), total)
	for id := int64(1); id <= productSpan; id++ {
		assert.Equal(t, int64(folders*foldsEach/productSpan), drained[id])
	}
}
