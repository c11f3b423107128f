package scheduler

import (
	"container/heap"
	"sync"
)

// queued is one job waiting for a worker.
type queued struct {
	jobID    string
	priority int
	seq      uint64
}

// jobHeap orders by priority descending, then enqueue order.
type jobHeap []queued

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// jobQueue is a blocking priority queue feeding the worker pool.
type jobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  jobHeap
	seq    uint64
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a job id with its priority. It reports false once the queue
// has been closed.
func (q *jobQueue) push(jobID string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	heap.Push(&q.items, queued{jobID: jobID, priority: priority, seq: q.seq})
	q.cond.Signal()
	return true
}

// pop blocks until a job is available or the queue is closed. The second
// return is false once the queue is closed.
func (q *jobQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return "", false
	}
	item := heap.Pop(&q.items).(queued)
	return item.jobID, true
}

// close wakes all waiters; pending items are discarded.
func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}
