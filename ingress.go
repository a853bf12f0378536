package loopchan

import "sync"

// chunkSize is the number of callbacks per node in the ingress linked list.
const chunkSize = 128

// ingressQueue is a chunked linked-list queue for one-shot callbacks handed
// to the loop via Submit.
//
// It is NOT thread-safe; the loop's ingress mutex provides synchronization.
// Fixed-size chunks amortize allocations, and exhausted chunks are recycled
// through a pool to avoid GC churn under sustained submission.
type ingressQueue struct {
	head   *ingressChunk
	tail   *ingressChunk
	length int
}

type ingressChunk struct {
	fns      [chunkSize]func()
	next     *ingressChunk
	readPos  int
	writePos int
}

var ingressChunkPool = sync.Pool{
	New: func() any {
		return &ingressChunk{}
	},
}

func newIngressChunk() *ingressChunk {
	c := ingressChunkPool.Get().(*ingressChunk)
	c.readPos = 0
	c.writePos = 0
	c.next = nil
	return c
}

// recycleIngressChunk clears remaining slots before pooling so retained
// closures do not leak.
func recycleIngressChunk(c *ingressChunk) {
	for i := 0; i < c.writePos; i++ {
		c.fns[i] = nil
	}
	c.readPos = 0
	c.writePos = 0
	c.next = nil
	ingressChunkPool.Put(c)
}

// push appends fn. Caller must hold the ingress mutex.
func (q *ingressQueue) push(fn func()) {
	if q.tail == nil {
		q.tail = newIngressChunk()
		q.head = q.tail
	}
	if q.tail.writePos == len(q.tail.fns) {
		next := newIngressChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.fns[q.tail.writePos] = fn
	q.tail.writePos++
	q.length++
}

// pop removes the oldest callback, returning false when empty. Caller must
// hold the ingress mutex.
func (q *ingressQueue) pop() (func(), bool) {
	if q.head == nil {
		return nil, false
	}

	if q.head.readPos >= q.head.writePos {
		if q.head == q.tail {
			q.head.readPos = 0
			q.head.writePos = 0
			return nil, false
		}
		old := q.head
		q.head = q.head.next
		recycleIngressChunk(old)
	}

	if q.head.readPos >= q.head.writePos {
		return nil, false
	}

	fn := q.head.fns[q.head.readPos]
	q.head.fns[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.writePos {
		if q.head == q.tail {
			q.head.readPos = 0
			q.head.writePos = 0
		} else {
			old := q.head
			q.head = q.head.next
			recycleIngressChunk(old)
		}
	}

	return fn, true
}

// len returns the queue length. Caller must hold the ingress mutex.
func (q *ingressQueue) len() int {
	return q.length
}
