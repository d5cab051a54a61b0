// Package ringbuffer implements the append-only byte accumulator the frame
// reader (C4) uses to recover frames from an unbounded stream: append is
// O(n) amortized, find and consume together amortize to O(total bytes
// processed) across the buffer's lifetime via periodic compaction.
package ringbuffer

import "bytes"

// Buffer is not safe for concurrent use; it is owned exclusively by the
// framer's worker goroutine, per spec invariant (iii).
type Buffer struct {
	data   []byte
	cursor int // logical read position into data
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds bytes to the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
	b.maybeCompact()
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.cursor
}

// Bytes returns the unconsumed region. The returned slice is only valid
// until the next Append or Consume call.
func (b *Buffer) Bytes() []byte {
	return b.data[b.cursor:]
}

// Find returns the offset (relative to the logical start, i.e. relative to
// Bytes()) of the first occurrence of needle at or after fromOffset, or -1.
// Correct across appends that straddle needle between two chunks, since the
// search always runs over the full unconsumed region.
func (b *Buffer) Find(needle []byte, fromOffset int) int {
	if len(needle) == 0 {
		return -1
	}
	view := b.Bytes()
	if fromOffset < 0 {
		fromOffset = 0
	}
	if fromOffset >= len(view) {
		return -1
	}
	idx := bytes.Index(view[fromOffset:], needle)
	if idx < 0 {
		return -1
	}
	return fromOffset + idx
}

// Consume drops bytes [0, upto) from the logical view; offsets returned by
// subsequent Find calls are re-based against the new start.
func (b *Buffer) Consume(upto int) {
	if upto <= 0 {
		return
	}
	if upto > b.Len() {
		upto = b.Len()
	}
	b.cursor += upto
	b.maybeCompact()
}

// compactThreshold bounds how much consumed prefix we tolerate before
// physically shifting the backing array; keeps Append/Consume amortized.
const compactThreshold = 64 * 1024

func (b *Buffer) maybeCompact() {
	if b.cursor < compactThreshold && b.cursor < len(b.data)/2 {
		return
	}
	if b.cursor == 0 {
		return
	}
	remaining := len(b.data) - b.cursor
	copy(b.data, b.data[b.cursor:])
	b.data = b.data[:remaining]
	b.cursor = 0
}

// DropOldestHalf implements the §7 high-water policy: when the buffer grows
// past maxBufferBytes without yielding a frame, consume half the oldest
// unconsumed bytes and continue. Returns the number of bytes dropped.
func (b *Buffer) DropOldestHalf() int {
	n := b.Len() / 2
	if n <= 0 {
		return 0
	}
	b.Consume(n)
	return n
}
