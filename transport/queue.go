package transport

import (
	"sync"
	"time"

	"github.com/n8kdx/rssi-aodv/core/codec"
	"github.com/n8kdx/rssi-aodv/core/id"
)

// Send priorities. Lower numbers are dequeued first.
const (
	// PriorityControl is used for AODV control frames (RREQ/RREP) and
	// beacons originated by this node.
	PriorityControl uint8 = 0
	// PriorityData is used for application traffic.
	PriorityData uint8 = 1
	// PriorityRebroadcast is used for opportunistic rebroadcasts, which
	// are held for a short delay and may be cancelled if a duplicate is
	// overheard first.
	PriorityRebroadcast uint8 = 2
)

// SendQueue is a priority-ordered outbound frame queue shared by the
// transport implementations. Items with a future readyAt time are held
// until that time has passed, which gives Cancel a window to suppress a
// rebroadcast that another node already performed.
type SendQueue struct {
	mu    sync.Mutex
	items []queueItem
}

type queueItem struct {
	frame    *codec.Frame
	priority uint8
	readyAt  time.Time
}

// NewSendQueue creates an empty send queue.
func NewSendQueue() *SendQueue {
	return &SendQueue{}
}

// Push adds a frame to the queue with the given priority and delay.
// Priority 0 is highest. The frame will not be returned by Pop until the
// delay has elapsed.
func (q *SendQueue) Push(frame *codec.Frame, priority uint8, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queueItem{
		frame:    frame,
		priority: priority,
		readyAt:  time.Now().Add(delay),
	})
}

// Pop returns the highest-priority ready frame, or nil if none are ready.
// Among items with equal priority, the earliest-inserted item is returned.
func (q *SendQueue) Pop() *codec.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	bestIdx := -1
	var bestPri uint8 = 255

	for i, item := range q.items {
		if now.Before(item.readyAt) {
			continue
		}
		if bestIdx == -1 || item.priority < bestPri {
			bestIdx = i
			bestPri = item.priority
		}
	}

	if bestIdx == -1 {
		return nil
	}

	frame := q.items[bestIdx].frame
	q.items = append(q.items[:bestIdx], q.items[bestIdx+1:]...)
	return frame
}

// Cancel removes any queued frame matching the original sender and frame
// id, returning true if one was removed. A frame already popped for
// transmission is unaffected, which makes cancellation best effort.
func (q *SendQueue) Cancel(from id.NodeID, frameID uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false
	kept := q.items[:0]
	for _, item := range q.items {
		if item.frame.From == from && item.frame.ID == frameID {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len returns the total number of items in the queue (ready or not).
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
