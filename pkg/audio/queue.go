package audio

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is the number of frames a [FrameQueue] holds before it
// starts dropping. 32 frames of 2048 samples is about four seconds at 16kHz.
const DefaultQueueCapacity = 32

// FrameQueue is the bounded hand-off between the audio callback (producer)
// and the transport (consumer). [FrameQueue.Offer] never blocks: when the
// queue is full the oldest queued frame is discarded so the consumer always
// sees the most recent audio.
//
// FrameQueue is safe for one producer and any number of consumers.
type FrameQueue struct {
	ch        chan AudioFrame
	dropped   atomic.Uint64
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewFrameQueue creates a queue holding at most capacity frames. A
// non-positive capacity selects [DefaultQueueCapacity].
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{ch: make(chan AudioFrame, capacity)}
}

// Offer enqueues frame. If the queue is full, the oldest frame is evicted and
// dropped reports true. Offering to a closed queue discards the frame and
// also reports true.
func (q *FrameQueue) Offer(frame AudioFrame) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped.Add(1)
		return true
	}
	for {
		select {
		case q.ch <- frame:
			return dropped
		default:
		}
		// Full: evict the head. The consumer may have drained it in the
		// meantime, in which case the retry simply succeeds.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Frames returns the consumer side of the queue. The channel is closed by
// [FrameQueue.Close]; frames already queued remain readable.
func (q *FrameQueue) Frames() <-chan AudioFrame { return q.ch }

// Len returns the number of frames currently queued.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Dropped returns the total number of frames discarded so far.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting frames and closes the consumer channel. Safe to call
// more than once.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
