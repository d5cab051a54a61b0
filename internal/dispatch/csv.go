package dispatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/signalgrid/tscore/internal/frame"
)

// Rotator is optionally implemented by a csvWriter backend that needs to
// roll over to a new resource after some capacity limit. Generalized from
// the teacher's azblob.go Rotator (block-count limited, since an append
// blob tops out at 50,000 blocks) to any row- or byte-bounded sink.
type Rotator interface {
	ShouldRotate() bool
	Rotate() error
}

type csvWriter interface {
	WriteHeader(cols []string) error
	WriteRow(cols []string) error
	Close() error
}

// CSVSink appends every dataset value to one row per frame, one column per
// dataset (in declaration order), rebuilding the header when the frame's
// structural shape changes. Grounded on the teacher's one-goroutine-per-
// resource shape: a single worker goroutine drains a bounded channel so a
// slow disk or a stalled blob upload never blocks Hub.Dispatch.
type CSVSink struct {
	w       csvWriter
	ch      chan *frame.TelemetryFrame
	header  []string
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewCSVSink starts the background writer goroutine.
func NewCSVSink(w csvWriter, backlog int) *CSVSink {
	if backlog <= 0 {
		backlog = 256
	}
	s := &CSVSink{
		w:    w,
		ch:   make(chan *frame.TelemetryFrame, backlog),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Submit(f *frame.TelemetryFrame) bool {
	select {
	case s.ch <- f:
		return true
	default:
		return false
	}
}

func (s *CSVSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.ch:
			s.writeFrame(f)
		}
	}
}

// writeFrame builds the §6 header row ("Timestamp," followed by one
// column per dataset named "<groupTitle>/<datasetTitle> (<units>)") and
// appends one row per frame. Iterates Groups directly rather than
// f.Flatten() because the header needs each dataset's owning group title,
// which Flatten discards.
func (s *CSVSink) writeFrame(f *frame.TelemetryFrame) {
	cols := make([]string, 0, f.DatasetCount()+1)
	cols = append(cols, "Timestamp")
	for _, g := range f.Groups {
		for _, ds := range g.Datasets {
			cols = append(cols, fmt.Sprintf("%s/%s (%s)", g.Title, ds.Title, ds.Units))
		}
	}
	if !equalHeader(s.header, cols) {
		s.header = cols
		_ = s.w.WriteHeader(cols)
	}
	row := make([]string, 0, len(cols))
	row = append(row, f.Received.UTC().Format("2006-01-02T15:04:05.000Z"))
	for _, g := range f.Groups {
		for _, ds := range g.Datasets {
			row = append(row, ds.Value)
		}
	}
	_ = s.w.WriteRow(row)

	if r, ok := s.w.(Rotator); ok && r.ShouldRotate() {
		_ = r.Rotate()
	}
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *CSVSink) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	_ = s.w.Close()
}

// sessionFilename builds the §6 "<projectTitle>_<ISO8601>.csv" session
// filename. stamp is fixed once per connection session (computed at sink
// construction, not per rotation); a rotated continuation file appends
// ".N" ahead of the extension so a single session can still span more than
// one file without losing the mandated base name.
func sessionFilename(projectTitle, stamp string, seq int) string {
	name := sanitizeFilename(projectTitle) + "_" + stamp
	if seq > 0 {
		name = fmt.Sprintf("%s.%d", name, seq)
	}
	return name + ".csv"
}

// sanitizeFilename strips path separators from a project title, mirroring
// internal/settings's rowKey sanitizer.
func sanitizeFilename(title string) string {
	return strings.ReplaceAll(strings.ReplaceAll(title, "/", "_"), " ", "_")
}

// isoSessionStamp is the millisecond-precision, filesystem-safe ISO8601
// stamp §6 names for the session filename (colons aren't valid in
// Windows/NTFS filenames, so the basic ISO8601 form is used instead of the
// extended form with colons).
func isoSessionStamp(t time.Time) string {
	return t.UTC().Format("20060102T150405.000Z")
}

// localCSVWriter writes to an *os.File on the local filesystem, rotating to
// a new numbered continuation file once maxRows is reached.
type localCSVWriter struct {
	dir, projectTitle, stamp string
	maxRows                  int

	f    *os.File
	csv  *csv.Writer
	rows int
	seq  int
}

// NewLocalCSVWriter creates (or truncates) the first session file
// immediately, named per §6 as "<projectTitle>_<ISO8601>.csv" under dir.
func NewLocalCSVWriter(dir, projectTitle string, maxRows int) (csvWriter, error) {
	w := &localCSVWriter{dir: dir, projectTitle: projectTitle, stamp: isoSessionStamp(time.Now()), maxRows: maxRows}
	if err := w.openNext(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *localCSVWriter) openNext() error {
	if w.f != nil {
		w.csv.Flush()
		w.f.Close()
	}
	path := filepath.Join(w.dir, sessionFilename(w.projectTitle, w.stamp, w.seq))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w.f = f
	w.csv = csv.NewWriter(f)
	w.rows = 0
	return nil
}

func (w *localCSVWriter) WriteHeader(cols []string) error {
	return w.csv.Write(cols)
}

func (w *localCSVWriter) WriteRow(cols []string) error {
	w.rows++
	err := w.csv.Write(cols)
	w.csv.Flush()
	return err
}

func (w *localCSVWriter) ShouldRotate() bool {
	return w.maxRows > 0 && w.rows >= w.maxRows
}

func (w *localCSVWriter) Rotate() error {
	w.seq++
	return w.openNext()
}

func (w *localCSVWriter) Close() error {
	w.csv.Flush()
	return w.f.Close()
}

// blobCSVWriter archives CSV rows to an Azure append blob, rotating to a
// new blob after maxRows, generalized from the teacher's azblob.go
// MaxBlocksPerBlob limit (there, 50,000 AppendBlock calls per blob; here,
// a configurable row count since each WriteRow is one AppendBlock call).
type blobCSVWriter struct {
	ctx          context.Context
	container    *container.Client
	projectTitle string
	stamp        string
	maxRows      int

	client *appendblob.Client
	seq    int
	rows   int
}

// NewBlobCSVWriter creates the first append blob for the session, named per
// §6 as "<projectTitle>_<ISO8601>.csv", under the given container client.
func NewBlobCSVWriter(ctx context.Context, c *container.Client, projectTitle string, maxRows int) (csvWriter, error) {
	w := &blobCSVWriter{ctx: ctx, container: c, projectTitle: projectTitle, stamp: isoSessionStamp(time.Now()), maxRows: maxRows}
	if err := w.openNext(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *blobCSVWriter) blobName() string {
	return sessionFilename(w.projectTitle, w.stamp, w.seq)
}

func (w *blobCSVWriter) openNext() error {
	client := w.container.NewAppendBlobClient(w.blobName())
	if _, err := client.Create(w.ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
		return fmt.Errorf("dispatch: create append blob: %w", err)
	}
	w.client = client
	w.rows = 0
	return nil
}

func (w *blobCSVWriter) appendLine(line string) error {
	_, err := w.client.AppendBlock(w.ctx, streaming.NopCloser(bytes.NewReader([]byte(line))), nil)
	return err
}

func (w *blobCSVWriter) WriteHeader(cols []string) error {
	return w.appendLine(encodeCSVLine(cols))
}

func (w *blobCSVWriter) WriteRow(cols []string) error {
	w.rows++
	return w.appendLine(encodeCSVLine(cols))
}

func (w *blobCSVWriter) ShouldRotate() bool {
	return w.maxRows > 0 && w.rows >= w.maxRows
}

func (w *blobCSVWriter) Rotate() error {
	w.seq++
	return w.openNext()
}

func (w *blobCSVWriter) Close() error { return nil }

func encodeCSVLine(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if strings.ContainsAny(c, ",\"\n") {
			c = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		quoted[i] = c
	}
	return strings.Join(quoted, ",") + "\n"
}
