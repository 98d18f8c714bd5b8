package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimocore/chans/mpsc"
	"github.com/fimoengine/fimocore/chans/uspmc"
	"github.com/fimoengine/fimocore/cmdbuf"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/task"
	"github.com/fimoengine/fimocore/trace"
)

func newTestWorker(t *testing.T) (*Worker, *mpsc.Queue) {
	t.Helper()
	table := futex.NewTable(4)
	global := uspmc.New[*task.Task](table)
	tracer := trace.NewRegistry()
	poolMsgs := &mpsc.Queue{}
	w := New(0, 1, global, table, tracer, poolMsgs)
	return w, poolMsgs
}

func popEvent(q *mpsc.Queue) *Event {
	n := q.Pop()
	if n == nil {
		return nil
	}
	return EventFromNode(n)
}

func newTask(t *testing.T, body task.Body) *task.Task {
	t.Helper()
	return task.New(1, cmdbuf.New(1), nil, nil, body)
}

func TestWorker_RunsPinnedLocalTaskToCompletion(t *testing.T) {
	w, msgs := newTestWorker(t)
	tk := newTask(t, func(self *task.Task) error { return nil })
	w.PushLocal(tk)

	go w.Run()
	requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Complete && !e.IsError })
	w.Close()
	w.global.Close()
}

func TestWorker_PicksUpTaskFromGlobalQueue(t *testing.T) {
	w, msgs := newTestWorker(t)
	tk := newTask(t, func(self *task.Task) error { return nil })
	w.global.Push(tk)

	go w.Run()
	requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Complete })
	w.Close()
	w.global.Close()
}

func TestWorker_YieldRequeuesThenCompletes(t *testing.T) {
	w, msgs := newTestWorker(t)
	var yields int32
	tk := newTask(t, func(self *task.Task) error {
		for i := 0; i < 3; i++ {
			self.DoYield()
			atomic.AddInt32(&yields, 1)
		}
		return nil
	})
	w.PushLocal(tk)

	go w.Run()
	requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Complete })
	require.Equal(t, int32(3), atomic.LoadInt32(&yields))
	w.Close()
	w.global.Close()
}

func TestWorker_SleepPostsSleepEventWithDeadline(t *testing.T) {
	w, msgs := newTestWorker(t)
	deadline := time.Now().Add(time.Hour)
	tk := newTask(t, func(self *task.Task) error {
		self.DoSleep(deadline)
		return nil
	})
	w.PushLocal(tk)

	go w.Run()
	e := requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Sleep })
	require.Equal(t, deadline, e.Deadline)
	require.Equal(t, task.Parked, tk.State())
}

func TestWorker_PastSleepDeadlineTreatedAsYield(t *testing.T) {
	w, msgs := newTestWorker(t)
	var timedOut atomic.Bool
	tk := newTask(t, func(self *task.Task) error {
		timedOut.Store(self.DoSleep(time.Now().Add(-time.Second)))
		return nil
	})
	w.PushLocal(tk)

	go w.Run()
	e := requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Complete })
	require.Equal(t, Complete, e.Kind)
	require.True(t, timedOut.Load())
}

func TestWorker_WaitPostsWaitEventWithAddrAndToken(t *testing.T) {
	w, msgs := newTestWorker(t)
	var word atomic.Uint64
	word.Store(5)
	addr := futex.Uint64Key(&word)

	tk := newTask(t, func(self *task.Task) error {
		self.DoWait(addr, 5, 9, time.Time{})
		return nil
	})
	w.PushLocal(tk)

	go w.Run()
	e := requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Wait })
	require.Equal(t, uint64(5), e.Expected)
	require.Equal(t, futex.Token(9), e.Token)
	require.Equal(t, task.Parked, tk.State())
}

func TestWorker_PastWaitDeadlineReportsTimedOut(t *testing.T) {
	w, msgs := newTestWorker(t)
	var word atomic.Uint64
	addr := futex.Uint64Key(&word)

	var timedOut atomic.Bool
	tk := newTask(t, func(self *task.Task) error {
		timedOut.Store(self.DoWait(addr, 0, 1, time.Now().Add(-time.Second)))
		return nil
	})
	w.PushLocal(tk)

	go w.Run()
	e := requireEventEventually(t, msgs, func(e *Event) bool { return e.Kind == Complete })
	require.Equal(t, Complete, e.Kind)
	require.True(t, timedOut.Load())
}

func TestWorker_PreferredGroupSkewsToGlobalWhenBackedUp(t *testing.T) {
	w, _ := newTestWorker(t)
	for i := 0; i < 5; i++ {
		w.global.Push(newTask(t, func(self *task.Task) error { return nil }))
	}
	require.Same(t, w.globalFirst, w.preferredGroup())
}

func TestWorker_PreferredGroupDefaultsToLocal(t *testing.T) {
	w, _ := newTestWorker(t)
	require.Same(t, w.localFirst, w.preferredGroup())
}

func TestWorker_RunExitsOnceBothQueuesClosedAndDrained(t *testing.T) {
	w, _ := newTestWorker(t)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Close()
	w.global.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after both queues closed")
	}
}

func requireEventEventually(t *testing.T, msgs *mpsc.Queue, match func(*Event) bool) *Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e := popEvent(msgs); e != nil {
			if match(e) {
				return e
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected event never arrived")
	return nil
}
