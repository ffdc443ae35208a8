package audio

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("frame queue closed")

// FrameQueue is the bounded FIFO between network intake and the recognition
// feed loop. Enqueue never blocks: on overflow the oldest frame is dropped
// and counted, trading completeness for liveness since recognition tolerates
// short gaps better than unbounded lag.
type FrameQueue struct {
	mu      sync.Mutex
	frames  []Frame
	cap     int
	dropped uint64
	closed  bool
	notify  chan struct{}
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &FrameQueue{
		frames: make([]Frame, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a frame, dropping the oldest one when full. Returns false
// when the queue has been closed.
func (q *FrameQueue) Enqueue(f Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.frames) >= q.cap {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until a frame is available, the queue closes, or ctx ends.
// Frames come out in arrival order for everything not dropped.
func (q *FrameQueue) Dequeue(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			copy(q.frames, q.frames[1:])
			q.frames = q.frames[:len(q.frames)-1]
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Frame{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close wakes any blocked Dequeue. Already-queued frames remain readable.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dropped reports how many frames were discarded by overflow.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
