package stack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_AllocateRelease(t *testing.T) {
	p, err := NewPool([]Class{
		{Size: 4096, Preallocated: 2, MaxAllocated: 2},
		{Size: 16384, Default: true},
	})
	require.NoError(t, err)
	require.Equal(t, 4096, p.MinStackSize())
	require.Equal(t, 16384, p.MaxStackSize())

	s1, err := p.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, 4096, s1.Size())

	s2, err := p.Allocate(4096)
	require.NoError(t, err)

	_, err = p.Allocate(4096)
	require.Error(t, err, "third concurrent 4096 stack should exceed max_allocated")

	s1.Release()
	s3, err := p.Allocate(4096)
	require.NoError(t, err)

	s2.Release()
	s3.Release()
}

func TestPool_DefaultClassFallback(t *testing.T) {
	p, err := NewPool([]Class{
		{Size: 4096},
		{Size: 16384, Default: true},
	})
	require.NoError(t, err)

	s, err := p.Allocate(1 << 20)
	require.NoError(t, err)
	require.Equal(t, 16384, s.Size())
}

func TestNewPool_RejectsMultipleDefaults(t *testing.T) {
	_, err := NewPool([]Class{
		{Size: 4096, Default: true},
		{Size: 8192, Default: true},
	})
	require.Error(t, err)
}

func TestClassPool_HotCapBoundsWarmStacksAndColdBacksOffBuffer(t *testing.T) {
	cp := newClassPool(Class{Size: 4096, Hot: 1, Cold: 1})

	s1, err := cp.get()
	require.NoError(t, err)
	s2, err := cp.get()
	require.NoError(t, err)
	s3, err := cp.get()
	require.NoError(t, err)

	s1.Release()
	s2.Release()
	s3.Release()

	require.Len(t, cp.free, 1, "only Hot stacks stay warm")
	require.Len(t, cp.decommitted, 1, "one further stack is decommitted rather than dropped")
	require.Nil(t, cp.decommitted[0].buf, "a decommitted stack's backing array is released")

	// A further get takes the warm stack, and releasing it refills the warm
	// slot, so both counts are unchanged.
	s4, err := cp.get()
	require.NoError(t, err)
	s4.Release()
	require.Len(t, cp.free, 1)
	require.Len(t, cp.decommitted, 1)

	// Draining the warm stack first, then the cold one re-commits a fresh
	// backing array rather than returning the nil buffer as-is.
	_, err = cp.get()
	require.NoError(t, err)
	require.Len(t, cp.free, 0)
	require.Len(t, cp.decommitted, 1)

	reused, err := cp.get()
	require.NoError(t, err)
	require.Equal(t, 4096, reused.Size())
	require.Len(t, cp.decommitted, 0)
}
