package mpsc

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// intNode embeds Node as its first field, so a *Node recovered from the
// queue can be reinterpreted back to *intNode — the same layout contract
// any intrusive-list caller relies on.
type intNode struct {
	Node
	v int
}

func asIntNode(n *Node) *intNode {
	return (*intNode)(unsafe.Pointer(n))
}

func TestQueue_FIFOSingleProducer(t *testing.T) {
	var q Queue
	nodes := make([]*intNode, 10)
	for i := range nodes {
		nodes[i] = &intNode{v: i}
		q.Push(&nodes[i].Node)
	}

	for i := 0; i < 10; i++ {
		n := q.Pop()
		require.NotNil(t, n)
		require.Equal(t, i, asIntNode(n).v)
	}
	require.Nil(t, q.Pop())
}

func TestQueue_CloseStopsPushButDrainsExisting(t *testing.T) {
	var q Queue
	n1 := &intNode{v: 1}
	q.Push(&n1.Node)
	q.Close()
	require.True(t, q.Closed())

	n2 := &intNode{v: 2}
	require.False(t, q.Push(&n2.Node))

	popped := q.Pop()
	require.NotNil(t, popped)
	require.Equal(t, 1, asIntNode(popped).v)
	require.Nil(t, q.Pop())
}

func TestQueue_MultiProducerStress(t *testing.T) {
	var q Queue
	const producers = 100
	const perProducer = 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				n := &intNode{v: p*perProducer + i}
				q.Push(&n.Node)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	count := 0
	for n := q.Pop(); n != nil; n = q.Pop() {
		v := asIntNode(n).v
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
		count++
	}
	require.Equal(t, producers*perProducer, count)
}
