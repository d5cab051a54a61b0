// Package queue implements C5: a single-producer/single-consumer,
// lock-free, bounded queue of raw-frame byte sequences sitting between the
// framer thread (C4, producer) and the ingest thread (C6, consumer).
//
// Slots are pre-allocated; each holds a Disruptor-style sequence number and
// the frame's byte slice. There is no separate length header: the slice
// carries its own length.
package queue

import (
	"sync/atomic"
)

// entry is one queue slot.
type entry struct {
	seq     uint64 // sequencing cookie, Disruptor-style
	payload []byte
}

// Queue is a bounded ring of capacity entries, safe for exactly one
// producer goroutine and one consumer goroutine used concurrently (any
// other usage pattern is undefined, per spec.md §4.5).
type Queue struct {
	mask    uint64
	buf     []entry
	head    uint64 // next slot the producer will write (atomic)
	tail    uint64 // next slot the consumer will read (atomic)
	closed  uint32
	blocked int64 // BackpressureEvent counter: times TryEnqueue observed "full"
}

// New returns a Queue whose capacity is the next power of two >= capacity,
// per spec.md §4.5's "default >= 4096 entries".
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 4096
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	buf := make([]entry, size)
	for i := range buf {
		buf[i].seq = uint64(i)
	}
	return &Queue{mask: size - 1, buf: buf}
}

// Cap returns the queue's slot count.
func (q *Queue) Cap() int { return len(q.buf) }

// TryEnqueue attempts a non-blocking push; it returns false if the queue is
// currently full. The caller (the framer) is expected to retry until it
// succeeds, which is how §4.4's "blocks the framer thread" back-pressure
// point is implemented without an actual OS-level block inside the queue
// itself.
func (q *Queue) TryEnqueue(payload []byte) bool {
	pos := atomic.LoadUint64(&q.head)
	slot := &q.buf[pos&q.mask]
	seq := atomic.LoadUint64(&slot.seq)
	diff := int64(seq) - int64(pos)
	if diff != 0 {
		atomic.AddInt64(&q.blocked, 1)
		return false
	}
	if !atomic.CompareAndSwapUint64(&q.head, pos, pos+1) {
		return false
	}
	slot.payload = payload
	atomic.StoreUint64(&slot.seq, pos+1)
	return true
}

// TryDequeue attempts a non-blocking pop; it returns ok=false if the queue
// is currently empty.
func (q *Queue) TryDequeue() (payload []byte, ok bool) {
	pos := atomic.LoadUint64(&q.tail)
	slot := &q.buf[pos&q.mask]
	seq := atomic.LoadUint64(&slot.seq)
	diff := int64(seq) - int64(pos+1)
	if diff != 0 {
		return nil, false
	}
	if !atomic.CompareAndSwapUint64(&q.tail, pos, pos+1) {
		return nil, false
	}
	payload = slot.payload
	slot.payload = nil
	atomic.StoreUint64(&slot.seq, pos+q.mask+1)
	return payload, true
}

// BlockedCount returns the number of times TryEnqueue observed the queue
// full, feeding the §7 BackpressureEvent counter.
func (q *Queue) BlockedCount() int64 { return atomic.LoadInt64(&q.blocked) }

// Close marks the queue closed; the consumer should drain remaining
// entries via TryDequeue and then stop, per spec.md §5's cancellation
// model ("ingest thread exits when the queue is closed and drained").
func (q *Queue) Close() { atomic.StoreUint32(&q.closed, 1) }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return atomic.LoadUint32(&q.closed) == 1 }
