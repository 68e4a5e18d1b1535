package dispatch

import "sync"

// laneQueue is an unbounded FIFO of work items guarded by a condition
// variable. Unbounded on purpose: enqueue must never block the ingestion path,
// backpressure is not a concern at assistant scale.
type laneQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []WorkItem
	closed bool
}

func newLaneQueue() *laneQueue {
	q := &laneQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item. Pushing to a closed queue drops the item.
func (q *laneQueue) push(item WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed. The second
// return is false once the queue is closed and drained.
func (q *laneQueue) pop() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return WorkItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// close wakes all waiters; pending items are still delivered before pop
// reports closure.
func (q *laneQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
