package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, cfg Config) (*Reader, *[]string, *int) {
	t.Helper()
	frames := &[]string{}
	errs := 0
	r, err := NewReader(cfg, func(p []byte) error {
		*frames = append(*frames, string(p))
		return nil
	})
	require.NoError(t, err)
	r.OnFrameError = func(string) { errs++ }
	return r, frames, &errs
}

func TestQuickPlotCSVScenario(t *testing.T) {
	r, frames, _ := collect(t, Config{Mode: EndDelimiter, EndSeq: []byte("\n")})
	require.NoError(t, r.OnBytes([]byte("1.0,2.0,3.0\n4.0,5.0,6.0\n")))
	assert.Equal(t, []string{"1.0,2.0,3.0", "4.0,5.0,6.0"}, *frames)
}

func TestStartAndEndWithCRC16CCITTFalse(t *testing.T) {
	r, frames, errs := collect(t, Config{
		Mode: StartAndEndDelimiter, StartSeq: []byte("$"), EndSeq: []byte("#"),
		ChecksumName: "CRC-16/CCITT-FALSE",
	})
	require.NoError(t, r.OnBytes([]byte("$hello\xD2\x6E#")))
	assert.Equal(t, []string{"hello"}, *frames)
	assert.Equal(t, 0, *errs)
}

func TestStartAndEndWithCorruptedCRC(t *testing.T) {
	r, frames, errs := collect(t, Config{
		Mode: StartAndEndDelimiter, StartSeq: []byte("$"), EndSeq: []byte("#"),
		ChecksumName: "CRC-16/CCITT-FALSE",
	})
	require.NoError(t, r.OnBytes([]byte("$hello\x00\x00#")))
	assert.Empty(t, *frames)
	assert.Equal(t, 1, *errs)
}

func TestChunkSplitDelimiter(t *testing.T) {
	r, frames, _ := collect(t, Config{
		Mode: StartAndEndDelimiter, StartSeq: []byte("/*"), EndSeq: []byte("*/"),
	})
	require.NoError(t, r.OnBytes([]byte("/*abc*")))
	assert.Empty(t, *frames)
	require.NoError(t, r.OnBytes([]byte("/def*/")))
	assert.Equal(t, []string{"abc"}, *frames)
}

func TestEndSeqSplitAcrossChunks(t *testing.T) {
	r, frames, _ := collect(t, Config{Mode: EndDelimiter, EndSeq: []byte("\r\n")})
	require.NoError(t, r.OnBytes([]byte("payload\r")))
	assert.Empty(t, *frames)
	require.NoError(t, r.OnBytes([]byte("\nmore")))
	assert.Equal(t, []string{"payload"}, *frames)
}

func TestStartEqualsEndTreatedAsEndDelimiter(t *testing.T) {
	r, frames, _ := collect(t, Config{
		Mode: StartAndEndDelimiter, StartSeq: []byte("|"), EndSeq: []byte("|"),
	})
	require.NoError(t, r.OnBytes([]byte("a|b|c|")))
	// EndDelimiter semantics: each '|' closes the preceding non-empty frame.
	assert.Equal(t, []string{"a", "b", "c"}, *frames)
}

func TestStartOnlyBuffersUntilSecondStart(t *testing.T) {
	r, frames, _ := collect(t, Config{Mode: StartOnly, StartSeq: []byte(">>")})
	require.NoError(t, r.OnBytes([]byte(">>first>>second")))
	assert.Equal(t, []string{"first"}, *frames)
	// Terminal frame on close/no-further-start is never emitted.
	require.NoError(t, r.OnBytes([]byte("-tail")))
	assert.Equal(t, []string{"first"}, *frames)
}

func TestNoDelimitersEmitsEachChunk(t *testing.T) {
	r, frames, _ := collect(t, Config{Mode: NoDelimiters})
	require.NoError(t, r.OnBytes([]byte("row1")))
	require.NoError(t, r.OnBytes([]byte("row2")))
	assert.Equal(t, []string{"row1", "row2"}, *frames)
}

func TestEmptyFrameDiscardedByDefault(t *testing.T) {
	r, frames, _ := collect(t, Config{Mode: EndDelimiter, EndSeq: []byte("\n")})
	require.NoError(t, r.OnBytes([]byte("\n\nabc\n")))
	assert.Equal(t, []string{"abc"}, *frames)
}

func TestResyncToLatestStart(t *testing.T) {
	r, frames, _ := collect(t, Config{
		Mode: StartAndEndDelimiter, StartSeq: []byte("["), EndSeq: []byte("]"),
	})
	require.NoError(t, r.OnBytes([]byte("[dropped[kept]")))
	assert.Equal(t, []string{"kept"}, *frames)
}

func TestChunkIndependenceProperty(t *testing.T) {
	stream := "1.0,2.0\n3.0,4.0\n5.0,6.0\n"
	partitions := [][]string{
		{stream},
		{"1.0,2", ".0\n3.0,4.0\n5", ".0,6.0\n"},
		{"1", ".", "0", ",", "2", ".", "0", "\n3.0,4.0\n5.0,6.0\n"},
	}
	var reference []string
	for i, parts := range partitions {
		r, frames, _ := collect(t, Config{Mode: EndDelimiter, EndSeq: []byte("\n")})
		for _, p := range parts {
			require.NoError(t, r.OnBytes([]byte(p)))
		}
		if i == 0 {
			reference = *frames
		} else {
			assert.Equal(t, reference, *frames, "partition %d diverged", i)
		}
	}
}

func TestHighWaterDropOldestHalf(t *testing.T) {
	r, _, _ := collect(t, Config{Mode: EndDelimiter, EndSeq: []byte("\n")})
	require.NoError(t, r.OnBytes(make([]byte, 100)))
	before := r.BufferedLen()
	dropped := r.DropOldestHalf()
	assert.Equal(t, before/2, dropped)
}
