package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFindConsume(t *testing.T) {
	b := New()
	b.Append([]byte("hello world"))

	idx := b.Find([]byte("world"), 0)
	require.Equal(t, 6, idx)

	b.Consume(idx + len("world"))
	assert.Equal(t, 0, b.Len())
}

func TestFindAcrossAppendsSplitNeedle(t *testing.T) {
	b := New()
	b.Append([]byte("abc#"))
	idx := b.Find([]byte("#*"), 0)
	assert.Equal(t, -1, idx)

	b.Append([]byte("*def"))
	idx = b.Find([]byte("#*"), 0)
	require.Equal(t, 3, idx)
}

func TestConsumeRebasesOffsets(t *testing.T) {
	b := New()
	b.Append([]byte("AA;BB;CC"))
	first := b.Find([]byte(";"), 0)
	require.Equal(t, 2, first)
	b.Consume(first + 1)

	second := b.Find([]byte(";"), 0)
	assert.Equal(t, 2, second) // "BB;CC" -> offset of ';' is 2, rebased
}

func TestCompactionPreservesData(t *testing.T) {
	b := New()
	// Push enough data through to force several compactions.
	for i := 0; i < 2000; i++ {
		b.Append([]byte("0123456789"))
		b.Consume(5)
	}
	assert.True(t, b.Len() > 0)
	// Whatever remains must still be discoverable.
	idx := b.Find([]byte("56789"), 0)
	assert.GreaterOrEqual(t, idx, 0)
}

func TestDropOldestHalf(t *testing.T) {
	b := New()
	b.Append(make([]byte, 100))
	dropped := b.DropOldestHalf()
	assert.Equal(t, 50, dropped)
	assert.Equal(t, 50, b.Len())
}

func TestFindEmptyNeedle(t *testing.T) {
	b := New()
	b.Append([]byte("abc"))
	assert.Equal(t, -1, b.Find(nil, 0))
}
