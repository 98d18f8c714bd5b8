package recv

import (
	"testing"
	"time"

	"github.com/fimoengine/fimocore/chans/spmc"
	"github.com/fimoengine/fimocore/futex"
	"github.com/stretchr/testify/require"
)

func TestGroup_TryRecvPrefersEarlierSource(t *testing.T) {
	tbl := futex.NewTable(2)
	a := spmc.New[string](4, tbl)
	b := spmc.New[string](4, tbl)
	require.NoError(t, a.Push("a"))
	require.NoError(t, b.Push("b"))

	g := NewGroup[string](tbl, a, b)
	v, ok := g.TryRecv()
	require.True(t, ok)
	require.Equal(t, "a", v)
}

func TestGroup_RecvParksThenWakes(t *testing.T) {
	tbl := futex.NewTable(2)
	a := spmc.New[string](4, tbl)
	b := spmc.New[string](4, tbl)
	g := NewGroup[string](tbl, a, b)

	result := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		v, ok, err := g.Recv(time.Time{})
		if ok {
			result <- v
		} else {
			result <- ""
		}
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Push("late"))

	select {
	case v := <-result:
		require.Equal(t, "late", v)
		require.NoError(t, <-errCh)
	case <-time.After(time.Second):
		t.Fatal("Recv never resolved")
	}
}

func TestGroup_RecvReturnsFalseWhenAllClosed(t *testing.T) {
	tbl := futex.NewTable(2)
	a := spmc.New[string](4, tbl)
	g := NewGroup[string](tbl, a)
	a.Close()

	v, ok, err := g.Recv(time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "", v)
}

func TestGroup_RecvTimeout(t *testing.T) {
	tbl := futex.NewTable(2)
	a := spmc.New[string](4, tbl)
	g := NewGroup[string](tbl, a)

	_, ok, err := g.Recv(time.Now().Add(10 * time.Millisecond))
	require.False(t, ok)
	require.ErrorIs(t, err, futex.ErrTimeout)
}
