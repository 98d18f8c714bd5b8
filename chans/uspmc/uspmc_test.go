package uspmc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fimoengine/fimocore/futex"
	"github.com/stretchr/testify/require"
)

func TestChannel_BasicFIFO(t *testing.T) {
	tbl := futex.NewTable(2)
	ch := New[int](tbl)

	for i := 0; i < 5; i++ {
		ch.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := ch.TryPop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := ch.TryPop()
	require.False(t, ok)
}

// Pushes far beyond the initial segment capacity while consumers drain
// concurrently, forcing several segment growths under contention.
func TestChannel_GrowsUnderContention(t *testing.T) {
	tbl := futex.NewTable(4)
	ch := New[int](tbl)

	const n = 5000
	var produced sync.WaitGroup
	produced.Add(1)
	go func() {
		defer produced.Done()
		for i := 0; i < n; i++ {
			ch.Push(i)
		}
	}()

	var total atomic.Int64
	var wg sync.WaitGroup
	const consumers = 6
	wg.Add(consumers)
	done := make(chan struct{})
	for c := 0; c < consumers; c++ {
		go func() {
			defer wg.Done()
			for {
				if _, ok := ch.TryPop(); ok {
					total.Add(1)
					continue
				}
				select {
				case <-done:
					return
				default:
				}
				if total.Load() >= n {
					return
				}
			}
		}()
	}

	produced.Wait()
	for total.Load() < n {
	}
	close(done)
	wg.Wait()

	require.Equal(t, int64(n), total.Load())
}

func TestChannel_CloseStopsPush(t *testing.T) {
	tbl := futex.NewTable(1)
	ch := New[int](tbl)
	ch.Push(1)
	ch.Close()
	require.True(t, ch.Closed())
	ch.Push(2) // no-op post-close

	v, ok := ch.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	_, ok = ch.TryPop()
	require.False(t, ok)
}
