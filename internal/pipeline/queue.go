package pipeline

import (
	"sync"

	"github.com/roach88/chronicle/internal/event"
)

// itemKind distinguishes queue item variants. Data and control share one
// queue so markers are processed in exact enqueue order relative to events.
type itemKind int

const (
	// itemEvent carries a bus event to filter and persist.
	itemEvent itemKind = iota + 1
	// itemPurge asks the worker to run the retention purge.
	itemPurge
	// itemStop asks the worker to finish draining and shut down.
	itemStop
)

// item is one entry on the shared queue: an event or a control marker.
type item struct {
	kind  itemKind
	event event.Event
}

// queue is the thread-safe unbounded FIFO shared by all producers and the
// single worker.
//
// Unbounded by design: producers (the host dispatch goroutine, the purge
// timer) must never block. Sustained overload grows memory without limit;
// bounding it is an explicit non-goal.
//
// A pending counter tracks items enqueued but not yet marked done, backing
// the drain barrier. Every dequeued item must be marked done exactly once,
// dropped and filtered-out items included, or Drain never returns.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []item
	pending int
	closed  bool
	signal  chan struct{} // coalesced availability signal (buffered, size 1)
}

func newQueue() *queue {
	q := &queue{
		items:  make([]item, 0, 64),
		signal: make(chan struct{}, 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue adds an item to the back of the queue.
// Thread-safe; never blocks. Returns false if the queue is closed.
func (q *queue) enqueue(it item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	q.pending++
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// dequeue removes and returns the front item, blocking until one is
// available or the queue is closed. Returns ok=false only when closed
// and empty.
func (q *queue) dequeue() (item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			// Nil the slot so the backing array does not retain the event
			// payload until reallocation.
			q.items[0] = item{}
			if len(q.items) == 1 {
				q.items = q.items[:0]
			} else {
				q.items = q.items[1:]
			}
			q.mu.Unlock()
			return it, true
		}
		if q.closed {
			q.mu.Unlock()
			return item{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// taskDone marks one dequeued item as fully processed.
// Must be called exactly once per dequeued item, on every exit path.
func (q *queue) taskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending > 0 {
		q.pending--
	}
	if q.pending == 0 {
		q.cond.Broadcast()
	}
}

// drain blocks until every previously enqueued item has been fully
// processed, including items that were filtered out or dropped, or until
// the queue closes. A closed queue releases the barrier even with items
// outstanding: the worker is gone and they will never complete.
func (q *queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 && !q.closed {
		q.cond.Wait()
	}
}

// length returns the number of items waiting to be dequeued.
func (q *queue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close marks the queue closed and wakes any blocked dequeue or drain.
// Enqueues after close are rejected; already-queued items stay readable.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	close(q.signal)
}
