package refcount

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_SingleZero(t *testing.T) {
	c := New()
	const n = 200

	var zeros atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		c.Ref()
		go func() {
			defer wg.Done()
			if c.Unref() {
				zeros.Add(1)
			}
		}()
	}

	var zwg sync.WaitGroup
	zwg.Add(1)
	go func() {
		defer zwg.Done()
		if c.Unref() {
			zeros.Add(1)
		}
	}()
	wg.Wait()
	zwg.Wait()

	require.Equal(t, int32(1), zeros.Load(), "exactly one Unref call must observe zero")
	require.Equal(t, int64(0), c.Load())
}

func TestCounter_RefUnref(t *testing.T) {
	c := New()
	c.Ref()
	require.Equal(t, int64(2), c.Load())
	require.False(t, c.Unref())
	require.True(t, c.Unref())
}
