package task

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/dispatch/internal/domain"
)

// TaskRef is a lightweight reference to a task that is currently eligible to
// run. Only the fields needed for ordering travel through the in-memory
// queue; workers re-read the authoritative row from the store before
// executing, so a ref may be stale without harm.
type TaskRef struct {
	ID        uuid.UUID
	Priority  domain.TaskPriority
	CreatedAt time.Time
}

// refHeap orders refs by priority descending, then creation time ascending
// so equal-priority tasks dequeue in FIFO order.
type refHeap []TaskRef

func (h refHeap) Len() int { return len(h) }

func (h refHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h refHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) { *h = append(*h, x.(TaskRef)) }

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	ref := old[n-1]
	*h = old[:n-1]
	return ref
}

// PriorityQueue is the in-memory working set of currently-eligible task
// references, safe for concurrent use. Dequeue blocks with a timeout so
// workers can periodically re-check for shutdown.
type PriorityQueue struct {
	mu     sync.Mutex
	heap   refHeap
	signal chan struct{}
}

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task reference to the queue and wakes one waiting worker.
func (q *PriorityQueue) Enqueue(ref TaskRef) {
	q.mu.Lock()
	heap.Push(&q.heap, ref)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the highest-priority reference, blocking up to
// timeout when the queue is empty. The second return value reports whether a
// reference was obtained before the timeout elapsed.
func (q *PriorityQueue) Dequeue(timeout time.Duration) (TaskRef, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			ref := heap.Pop(&q.heap).(TaskRef)
			q.mu.Unlock()
			return ref, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
			// Another worker may have taken the item; loop and re-check.
		case <-timer.C:
			return TaskRef{}, false
		}
	}
}

// Len returns the number of references currently queued.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
