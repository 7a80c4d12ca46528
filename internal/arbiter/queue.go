// Package arbiter holds pending frames and releases them in bus-arbitration
// order: the frame that would win arbitration on a physical bus leaves the
// queue first. It is the scheduling consumer of can.Priority.
package arbiter

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/mkowalik/go-can-arbiter/internal/can"
	"github.com/mkowalik/go-can-arbiter/internal/metrics"
)

// OverflowPolicy decides what happens to a Push against a full queue.
type OverflowPolicy int

const (
	// DropLowest evicts the lowest-priority pending frame to admit a
	// higher-priority one; the push itself fails if the new frame ranks
	// lowest.
	DropLowest OverflowPolicy = iota
	// Reject refuses new frames while the queue is full.
	Reject
)

// ErrQueueFull is returned by Push when a frame cannot be admitted.
var ErrQueueFull = errors.New("arbiter: queue full")

// DefaultCapacity bounds the queue when the caller passes no explicit size.
const DefaultCapacity = 1024

// Queue is a bounded priority queue of frames keyed on can.Priority.
// Frames with identical arbitration fields leave in insertion order.
// Push is safe for any number of producers; Pop is meant for a single
// consumer draining toward the bus.
type Queue struct {
	mu     sync.Mutex
	h      frameHeap
	seq    uint64
	cap    int
	policy OverflowPolicy
	notify chan struct{}
}

type entry struct {
	frame can.Frame
	pri   can.Priority
	seq   uint64
}

type frameHeap []entry

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if c := h[i].pri.Compare(h[j].pri); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}
func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// New creates a queue with the given capacity (DefaultCapacity when <= 0)
// and overflow policy.
func New(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		cap:    capacity,
		policy: policy,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a frame, applying the overflow policy when full.
func (q *Queue) Push(f can.Frame) error {
	pri := f.Priority()
	q.mu.Lock()
	if len(q.h) >= q.cap {
		if q.policy == Reject {
			q.mu.Unlock()
			metrics.IncArbiterDrop()
			return ErrQueueFull
		}
		worst := q.worstLocked()
		if pri.Compare(q.h[worst].pri) >= 0 {
			q.mu.Unlock()
			metrics.IncArbiterDrop()
			return ErrQueueFull
		}
		heap.Remove(&q.h, worst)
		metrics.IncArbiterDrop()
	}
	q.seq++
	heap.Push(&q.h, entry{frame: f, pri: pri, seq: q.seq})
	depth := len(q.h)
	q.mu.Unlock()

	metrics.IncArbiterEnqueue()
	metrics.SetArbiterDepth(depth)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// worstLocked returns the index of the entry that would transmit last:
// lowest priority, and among equals the most recently queued.
func (q *Queue) worstLocked() int {
	worst := 0
	for i := 1; i < len(q.h); i++ {
		c := q.h[i].pri.Compare(q.h[worst].pri)
		if c > 0 || (c == 0 && q.h[i].seq > q.h[worst].seq) {
			worst = i
		}
	}
	return worst
}

// Pop removes the frame that wins arbitration among those pending, blocking
// until one is available or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (can.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.h) > 0 {
			e := heap.Pop(&q.h).(entry)
			depth := len(q.h)
			q.mu.Unlock()
			metrics.IncArbiterDequeue()
			metrics.SetArbiterDepth(depth)
			return e.frame, nil
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return can.Frame{}, ctx.Err()
		}
	}
}

// TryPop is Pop without blocking; ok is false when the queue is empty.
func (q *Queue) TryPop() (can.Frame, bool) {
	q.mu.Lock()
	if len(q.h) == 0 {
		q.mu.Unlock()
		return can.Frame{}, false
	}
	e := heap.Pop(&q.h).(entry)
	depth := len(q.h)
	q.mu.Unlock()
	metrics.IncArbiterDequeue()
	metrics.SetArbiterDepth(depth)
	return e.frame, true
}

// Len returns the number of pending frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Pump drains the queue into send until ctx is cancelled. Send errors go to
// onErr (may be nil) and do not stop the pump.
func (q *Queue) Pump(ctx context.Context, send func(can.Frame) error, onErr func(error)) {
	for {
		fr, err := q.Pop(ctx)
		if err != nil {
			return
		}
		if err := send(fr); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
