// Package timer implements the binary min-heap of per-connection idle
// timers. It is owned and driven exclusively by the event loop goroutine; it
// carries no internal locking.
package timer

import (
	"container/heap"
	"time"
)

// Callback runs when a timer expires or is forced to fire via DoWork.
type Callback func()

// node is a single scheduled timer, keyed by expiry.
type node struct {
	id      int
	expires time.Time
	cb      Callback
	index   int // position in the heap slice, maintained by heap.Interface
}

// nodeHeap is the container/heap.Interface implementation backing Heap.
type nodeHeap []*node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].expires.Before(h[j].expires) }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *nodeHeap) Push(x interface{}) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Heap is a min-heap of timer nodes keyed on expiry, with an id→index side
// map enabling O(log n) Add/Adjust/Cancel for a known id.
type Heap struct {
	h   nodeHeap
	ref map[int]*node
	now func() time.Time
}

// New returns an empty Heap. now defaults to time.Now; it is a field so
// tests can control the clock.
func New() *Heap {
	return &Heap{
		ref: make(map[int]*node),
		now: time.Now,
	}
}

// Len returns the number of scheduled timers.
func (t *Heap) Len() int {
	return len(t.h)
}

// Add schedules id to fire after timeout, or reschedules it if id is already
// present (updating its expiry and callback in place).
func (t *Heap) Add(id int, timeout time.Duration, cb Callback) {
	if n, ok := t.ref[id]; ok {
		n.expires = t.now().Add(timeout)
		n.cb = cb
		heap.Fix(&t.h, n.index)
		return
	}
	n := &node{id: id, expires: t.now().Add(timeout), cb: cb}
	t.ref[id] = n
	heap.Push(&t.h, n)
}

// Adjust updates the expiry of an existing id without changing its callback.
// It is a no-op if id is not scheduled.
func (t *Heap) Adjust(id int, timeout time.Duration) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	n.expires = t.now().Add(timeout)
	heap.Fix(&t.h, n.index)
}

// Cancel removes id from the heap if present.
func (t *Heap) Cancel(id int) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	heap.Remove(&t.h, n.index)
	delete(t.ref, id)
}

// DoWork runs id's callback immediately and removes it from the heap. It is
// a no-op if id is not scheduled.
func (t *Heap) DoWork(id int) {
	n, ok := t.ref[id]
	if !ok {
		return
	}
	heap.Remove(&t.h, n.index)
	delete(t.ref, id)
	n.cb()
}

// Tick runs and removes every timer whose expiry is at or before now.
func (t *Heap) Tick() {
	now := t.now()
	for t.h.Len() > 0 && !t.h[0].expires.After(now) {
		n := heap.Pop(&t.h).(*node)
		delete(t.ref, n.id)
		n.cb()
	}
}

// GetNextTick runs Tick, then reports how many milliseconds until the next
// timer fires, or -1 if no timer is scheduled — the sentinel the event loop
// uses as an infinite poll timeout.
func (t *Heap) GetNextTick() int {
	t.Tick()
	if t.h.Len() == 0 {
		return -1
	}
	d := t.h[0].expires.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return int(d / time.Millisecond)
}
