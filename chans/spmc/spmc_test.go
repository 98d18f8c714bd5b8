package spmc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fimoengine/fimocore/futex"
	"github.com/stretchr/testify/require"
)

func TestChannel_RootCountMatchesFilledLeaves(t *testing.T) {
	tbl := futex.NewTable(2)
	ch := New[int](8, tbl)

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Push(i))
	}
	require.Equal(t, 5, ch.Len())

	filled := 0
	for i := ch.capacity - 1; i < 2*ch.capacity-1; i++ {
		if ch.counts[i].Load() != 0 {
			filled++
		}
	}
	require.Equal(t, filled, ch.Len())

	_, ok := ch.TryPop()
	require.True(t, ok)
	require.Equal(t, 4, ch.Len())
}

func TestChannel_RejectsNonPowerOfTwoCapacity(t *testing.T) {
	require.Panics(t, func() {
		New[int](3, futex.NewTable(1))
	})
}

func TestChannel_CapacityZeroAlwaysFull(t *testing.T) {
	ch := New[int](0, futex.NewTable(1))
	require.Equal(t, 0, ch.Cap())

	require.ErrorIs(t, ch.Push(1), ErrFull)
	require.ErrorIs(t, ch.PushSeed(1, 7), ErrFull)

	_, ok := ch.TryPop()
	require.False(t, ok)
	_, ok = ch.TryPopSeed(7)
	require.False(t, ok)
}

// TestChannel_SeedSteersDescentWithoutLosingItems checks that pushing and
// popping with varied seeds still delivers every item exactly once; the
// seed only changes which leaf within a subtree is preferred, never
// correctness.
func TestChannel_SeedSteersDescentWithoutLosingItems(t *testing.T) {
	tbl := futex.NewTable(2)
	ch := New[int](8, tbl)

	for i := 0; i < 8; i++ {
		require.NoError(t, ch.PushSeed(i, uint64(i)))
	}
	require.ErrorIs(t, ch.PushSeed(8, 0), ErrFull)

	seen := make(map[int]bool)
	for i := 0; i < 8; i++ {
		v, ok := ch.TryPopSeed(uint64(i * 3))
		require.True(t, ok)
		seen[v] = true
	}
	require.Len(t, seen, 8)
	_, ok := ch.TryPop()
	require.False(t, ok)
}

func TestChannel_FullReturnsErrFull(t *testing.T) {
	tbl := futex.NewTable(1)
	ch := New[int](2, tbl)
	require.NoError(t, ch.Push(1))
	require.NoError(t, ch.Push(2))
	require.ErrorIs(t, ch.Push(3), ErrFull)
}

// Fan-out: one producer pushes N items, M consumer goroutines race to drain
// them via TryPop; every item is observed by exactly one consumer.
func TestChannel_FanOut(t *testing.T) {
	tbl := futex.NewTable(4)
	ch := New[int](64, tbl)

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			for ch.Push(i) == ErrFull {
			}
		}
	}()

	var total atomic.Int64
	var wg sync.WaitGroup
	const consumers = 8
	wg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer wg.Done()
			for total.Load() < n {
				if _, ok := ch.TryPop(); ok {
					total.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(n), total.Load())
}
