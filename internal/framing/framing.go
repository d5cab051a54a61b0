// Package framing implements C4, the frame reader: it recovers application
// frames from the byte stream accumulated in an internal/ringbuffer.Buffer,
// under one of four delimitation policies, with optional checksum
// validation, and hands validated frames to an injected (possibly
// blocking) sink.
package framing

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/signalgrid/tscore/internal/checksum"
	"github.com/signalgrid/tscore/internal/ringbuffer"
)

// Mode selects one of the four extraction policies spec.md §4.4 defines.
type Mode int

const (
	EndDelimiter Mode = iota
	StartAndEndDelimiter
	StartOnly
	NoDelimiters
)

// Config is immutable once a Reader is constructed; changing it requires
// draining and rebuilding the Reader (spec.md §4.4 "Re-configuration").
type Config struct {
	Mode             Mode
	StartSeq         []byte
	EndSeq           []byte
	ChecksumName     string
	AllowEmptyFrames bool
}

// ErrInvalidConfig is returned by NewReader when the config is not
// internally consistent (missing required delimiters for the chosen mode).
var ErrInvalidConfig = errors.New("framing: invalid config")

// Sink receives a validated frame payload. It may block (the framer thread
// blocks on it in turn, implementing the queue-full backpressure point
// spec.md §4.4/§5 describe); a non-nil error aborts OnBytes and propagates
// as a fatal condition to the caller.
type Sink func(payload []byte) error

// Reader owns a ring buffer and runs one of the four extraction policies
// over it. Not safe for concurrent use — it is owned exclusively by the
// framer goroutine.
type Reader struct {
	cfg  Config
	buf  *ringbuffer.Buffer
	sum  checksum.Entry
	sink Sink

	OnFrameError   func(reason string)
	OnEmptyDropped func()
}

// NewReader validates cfg, resolves the checksum, and returns a Reader
// ready to accept bytes via OnBytes.
func NewReader(cfg Config, sink Sink) (*Reader, error) {
	if cfg.Mode == EndDelimiter || cfg.Mode == StartAndEndDelimiter {
		if len(cfg.EndSeq) == 0 {
			return nil, fmt.Errorf("%w: endSeq required for mode %v", ErrInvalidConfig, cfg.Mode)
		}
	}
	if cfg.Mode == StartAndEndDelimiter || cfg.Mode == StartOnly {
		if len(cfg.StartSeq) == 0 {
			return nil, fmt.Errorf("%w: startSeq required for mode %v", ErrInvalidConfig, cfg.Mode)
		}
	}
	// Open Question pin: startSeq == endSeq under StartAndEndDelimiter is
	// treated as EndDelimiter semantics.
	if cfg.Mode == StartAndEndDelimiter && bytes.Equal(cfg.StartSeq, cfg.EndSeq) {
		cfg.Mode = EndDelimiter
	}
	sum, err := checksum.Lookup(cfg.ChecksumName)
	if err != nil {
		return nil, fmt.Errorf("framing: %w", err)
	}
	return &Reader{
		cfg:  cfg,
		buf:  ringbuffer.New(),
		sum:  sum,
		sink: sink,
	}, nil
}

// BufferedLen exposes the ring buffer's unconsumed byte count, for the §7
// high-water policy.
func (r *Reader) BufferedLen() int { return r.buf.Len() }

// DropOldestHalf implements the §7 high-water policy on behalf of the
// caller (the caller decides the threshold and when to invoke this).
func (r *Reader) DropOldestHalf() int { return r.buf.DropOldestHalf() }

// OnBytes appends chunk to the ring buffer and loops extracting frames
// until no more can be produced, per spec.md §4.4.
func (r *Reader) OnBytes(chunk []byte) error {
	r.buf.Append(chunk)
	switch r.cfg.Mode {
	case NoDelimiters:
		return r.extractNoDelimiters()
	case EndDelimiter:
		return r.loop(r.extractEndDelimiter)
	case StartAndEndDelimiter:
		return r.loop(r.extractStartAndEnd)
	case StartOnly:
		return r.loop(r.extractStartOnly)
	default:
		return fmt.Errorf("framing: unknown mode %v", r.cfg.Mode)
	}
}

// loop calls extract repeatedly until it reports no further progress.
func (r *Reader) loop(extract func() (progressed bool, err error)) error {
	for {
		progressed, err := extract()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (r *Reader) errorf(reason string) {
	if r.OnFrameError != nil {
		r.OnFrameError(reason)
	}
}

func (r *Reader) emptyDropped() {
	if r.OnEmptyDropped != nil {
		r.OnEmptyDropped()
	}
}

// splitChecksum carves the digestLen trailing bytes off of raw (the bytes
// between a payload-start marker and a payload-end marker) and validates
// them. Returns the validated payload, or ok=false on mismatch or
// insufficient bytes.
func (r *Reader) splitChecksum(raw []byte) (payload []byte, ok bool) {
	if r.sum.DigestLen == 0 {
		return raw, true
	}
	if len(raw) < r.sum.DigestLen {
		return nil, false
	}
	payload = raw[:len(raw)-r.sum.DigestLen]
	want := raw[len(raw)-r.sum.DigestLen:]
	got := r.sum.Compute(payload)
	if !bytes.Equal(got, want) {
		return nil, false
	}
	return payload, true
}

func (r *Reader) emit(payload []byte) (bool, error) {
	if len(payload) == 0 && !r.cfg.AllowEmptyFrames {
		r.emptyDropped()
		return true, nil
	}
	cp := append([]byte(nil), payload...)
	if err := r.sink(cp); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reader) extractEndDelimiter() (bool, error) {
	view := r.buf.Bytes()
	endPos := indexOf(view, r.cfg.EndSeq, 0)
	if endPos < 0 {
		return false, nil
	}
	raw := view[:endPos]
	consumeTo := endPos + len(r.cfg.EndSeq)
	payload, ok := r.splitChecksum(raw)
	if !ok {
		r.errorf("checksum mismatch")
		r.buf.Consume(consumeTo)
		return true, nil
	}
	r.buf.Consume(consumeTo)
	return r.emit(payload)
}

func (r *Reader) extractStartAndEnd() (bool, error) {
	view := r.buf.Bytes()
	sPos := indexOf(view, r.cfg.StartSeq, 0)
	if sPos < 0 {
		return false, nil
	}
	for {
		searchFrom := sPos + len(r.cfg.StartSeq)
		ePos := indexOf(view, r.cfg.EndSeq, searchFrom)
		if ePos < 0 {
			// Not found yet; discard anything strictly before this start so
			// we don't rescan it, but keep the start itself pending.
			if sPos > 0 {
				r.buf.Consume(sPos)
			}
			return false, nil
		}
		nextStart := indexOf(view, r.cfg.StartSeq, searchFrom)
		if nextStart >= 0 && nextStart < ePos {
			sPos = nextStart
			continue
		}
		raw := view[searchFrom:ePos]
		consumeTo := ePos + len(r.cfg.EndSeq)
		payload, ok := r.splitChecksum(raw)
		r.buf.Consume(consumeTo)
		if !ok {
			r.errorf("checksum mismatch")
			return true, nil
		}
		return r.emit(payload)
	}
}

func (r *Reader) extractStartOnly() (bool, error) {
	view := r.buf.Bytes()
	sPos := indexOf(view, r.cfg.StartSeq, 0)
	if sPos < 0 {
		return false, nil
	}
	searchFrom := sPos + len(r.cfg.StartSeq)
	nextPos := indexOf(view, r.cfg.StartSeq, searchFrom)
	if nextPos < 0 {
		if sPos > 0 {
			r.buf.Consume(sPos)
		}
		return false, nil
	}
	raw := view[searchFrom:nextPos]
	payload, ok := r.splitChecksum(raw)
	// The next start must remain buffered as the new pending start, so we
	// only consume up to nextPos, not past it.
	r.buf.Consume(nextPos)
	if !ok {
		r.errorf("checksum mismatch")
		return true, nil
	}
	return r.emit(payload)
}

func (r *Reader) extractNoDelimiters() error {
	view := r.buf.Bytes()
	if len(view) == 0 {
		return nil
	}
	raw := append([]byte(nil), view...)
	r.buf.Consume(len(view))
	payload, ok := r.splitChecksum(raw)
	if !ok {
		r.errorf("checksum mismatch")
		return nil
	}
	_, err := r.emit(payload)
	return err
}

func indexOf(haystack, needle []byte, from int) int {
	if len(needle) == 0 || from >= len(haystack) {
		return -1
	}
	if from < 0 {
		from = 0
	}
	idx := bytes.Index(haystack[from:], needle)
	if idx < 0 {
		return -1
	}
	return from + idx
}
