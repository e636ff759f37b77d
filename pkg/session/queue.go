package session

import "sync"

// Frame is one carrier-format unit waiting for playback. A frame with a
// Mark and no Payload is a playback marker.
type Frame struct {
	Generation uint64
	Payload    []byte
	Mark       string
}

// AudioQueue is a bounded FIFO of frames.
type AudioQueue struct {
	mu    sync.Mutex
	items []Frame
	head  int
	cap   int
}

// NewAudioQueue returns a queue holding at most capacity frames.
func NewAudioQueue(capacity int) *AudioQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &AudioQueue{cap: capacity, items: make([]Frame, 0, capacity)}
}

// Push appends f. Returns false, leaving the queue unchanged, when full.
func (q *AudioQueue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)-q.head >= q.cap {
		return false
	}
	if q.head > 0 && len(q.items) == cap(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, f)
	return true
}

// Peek returns the oldest frame without removing it.
func (q *AudioQueue) Peek() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return Frame{}, false
	}
	return q.items[q.head], true
}

// Pop removes and returns the oldest frame.
func (q *AudioQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return Frame{}, false
	}
	f := q.items[q.head]
	q.items[q.head] = Frame{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return f, true
}

// Clear discards everything and returns how many audio frames were dropped.
// Markers are not counted.
func (q *AudioQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, f := range q.items[q.head:] {
		if len(f.Payload) > 0 {
			n++
		}
	}
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}

// Len returns the number of queued frames.
func (q *AudioQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Cap returns the queue bound.
func (q *AudioQueue) Cap() int {
	return q.cap
}

// Full reports whether Push would fail.
func (q *AudioQueue) Full() bool {
	return q.Len() >= q.cap
}
