package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWheel_FiresAtOrAfterDeadline(t *testing.T) {
	w := New()
	defer w.Close()

	fired := make(chan time.Time, 1)
	start := time.Now()
	w.Schedule(start.Add(10*time.Millisecond), func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		elapsed := at.Sub(start)
		require.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
		require.Less(t, elapsed, 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestWheel_CancelPreventsFire(t *testing.T) {
	w := New()
	defer w.Close()

	var fired atomic.Bool
	id := w.Schedule(time.Now().Add(20*time.Millisecond), func() {
		fired.Store(true)
	})
	require.True(t, w.Cancel(id))
	require.False(t, w.Cancel(id), "second cancel should report already gone")

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestWheel_FiresInDeadlineOrder(t *testing.T) {
	w := New()
	defer w.Close()

	var order []int
	done := make(chan struct{}, 3)
	now := time.Now()
	w.Schedule(now.Add(30*time.Millisecond), func() { order = append(order, 3); done <- struct{}{} })
	w.Schedule(now.Add(10*time.Millisecond), func() { order = append(order, 1); done <- struct{}{} })
	w.Schedule(now.Add(20*time.Millisecond), func() { order = append(order, 2); done <- struct{}{} })

	for i := 0; i < 3; i++ {
		<-done
	}
	require.Equal(t, []int{1, 2, 3}, order)
}
