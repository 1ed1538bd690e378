package router

import (
	"sync"
	"time"

	"github.com/kabili207/uavtalk-go/core/codec"
	"github.com/kabili207/uavtalk-go/transport"
)

// Scope selects which transports a queued frame is delivered to.
type Scope uint8

const (
	// ScopeAll delivers to every connected transport.
	ScopeAll Scope = iota
	// ScopeOthers delivers to every transport except Source.
	ScopeOthers
	// ScopeSource delivers to Source only.
	ScopeSource
)

// QueueEntry is a frame waiting to be sent, along with its delivery scope.
type QueueEntry struct {
	Frame  *codec.Frame
	Source transport.FrameSource
	Scope  Scope
}

// includes reports whether the entry is delivered to transports of src.
func (e *QueueEntry) includes(src transport.FrameSource) bool {
	switch e.Scope {
	case ScopeOthers:
		return src != e.Source
	case ScopeSource:
		return src == e.Source
	default:
		return true
	}
}

// SendQueue is a priority-ordered outbound frame queue.
// Lower priority numbers are dequeued first. Items with a future readyAt
// time are held until that time has passed.
type SendQueue struct {
	mu    sync.Mutex
	items []queueItem
	seq   uint64

	nowFn func() time.Time
}

type queueItem struct {
	entry    QueueEntry
	priority uint8
	readyAt  time.Time
	seq      uint64
}

// NewSendQueue creates an empty send queue.
func NewSendQueue() *SendQueue {
	return &SendQueue{nowFn: time.Now}
}

// Push adds a frame to the queue. Priority 0 is highest. The frame will not
// be returned by Pop until delay has elapsed.
func (q *SendQueue) Push(frame *codec.Frame, priority uint8, delay time.Duration, source transport.FrameSource, scope Scope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, queueItem{
		entry:    QueueEntry{Frame: frame, Source: source, Scope: scope},
		priority: priority,
		readyAt:  q.nowFn().Add(delay),
		seq:      q.seq,
	})
}

// Pop returns the highest-priority ready entry, or nil if none are ready.
// Among entries with equal priority, the earliest pushed is returned.
func (q *SendQueue) Pop() *QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	best := -1
	for i, item := range q.items {
		if now.Before(item.readyAt) {
			continue
		}
		if best == -1 || item.priority < q.items[best].priority ||
			(item.priority == q.items[best].priority && item.seq < q.items[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	entry := q.items[best].entry
	q.items = append(q.items[:best], q.items[best+1:]...)
	return &entry
}

// Len returns the total number of entries in the queue, ready or not.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued entry.
func (q *SendQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
