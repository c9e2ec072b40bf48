package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

// Reorder merges events from sources that lag each other. Events are held
// and released to next in time order once the newest event seen is at least
// window past them, or once they have waited window of wall time.
//
// A Reorder is safe for concurrent use. next is called with the lock held, so
// releases from concurrent pushes never interleave.
type Reorder struct {
	mu     sync.Mutex
	window time.Duration
	next   func(core.Event)
	now    func() time.Time

	held   heldHeap
	seq    uint64
	newest time.Time
}

// NewReorder creates a buffer in front of next. A zero window passes events
// straight through.
func NewReorder(window time.Duration, next func(core.Event)) *Reorder {
	if window < 0 {
		window = 0
	}
	return &Reorder{window: window, next: next, now: time.Now}
}

// Push buffers e and releases whatever is now due.
func (r *Reorder) Push(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	heap.Push(&r.held, heldEvent{event: e, arrived: r.now(), seq: r.seq})
	if e.Time.After(r.newest) {
		r.newest = e.Time
	}
	r.releaseLocked(false)
}

// Expire releases events that have waited a full window. Call it
// periodically so a quiet period does not strand buffered events.
func (r *Reorder) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(false)
}

// Flush releases every buffered event.
func (r *Reorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(true)
}

// Len returns how many events are buffered.
func (r *Reorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held.Len()
}

func (r *Reorder) releaseLocked(all bool) {
	watermark := r.newest.Add(-r.window)
	now := r.now()
	for r.held.Len() > 0 {
		top := r.held[0]
		if !all && top.event.Time.After(watermark) && now.Sub(top.arrived) < r.window {
			return
		}
		heap.Pop(&r.held)
		r.next(top.event)
	}
}

type heldEvent struct {
	event   core.Event
	arrived time.Time
	seq     uint64
}

// heldHeap orders by event time, then arrival.
type heldHeap []heldEvent

func (h heldHeap) Len() int { return len(h) }

func (h heldHeap) Less(i, j int) bool {
	if !h[i].event.Time.Equal(h[j].event.Time) {
		return h[i].event.Time.Before(h[j].event.Time)
	}
	return h[i].seq < h[j].seq
}

func (h heldHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heldHeap) Push(x any) { *h = append(*h, x.(heldEvent)) }

func (h *heldHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
