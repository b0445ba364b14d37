package binlog

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/rover.gateway/internal/fsutil"
	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/robot"
)

// Writer appends records to size-rotated segments named
// <stem>_<sessionTag>_<index><ext>. A maxBytes of zero disables rotation;
// keepFiles of zero disables retention cleanup.
type Writer struct {
	fs       fsutil.FileSystem
	dir      string
	stem     string
	ext      string
	tag      string
	maxBytes uint64
	keep     int

	out          io.WriteCloser
	index        int
	bytesWritten uint64
	segments     int
}

// NewWriter opens the first segment under basePath. The session tag groups
// this run's segments for retention; pass a YYYYmmdd_HHMMSS stamp.
func NewWriter(fs fsutil.FileSystem, basePath string, maxBytes uint64, keepFiles int, sessionTag string) (*Writer, error) {
	dir := filepath.Dir(basePath)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".bin"
	}
	stem := strings.TrimSuffix(filepath.Base(basePath), ext)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &Writer{
		fs:       fs,
		dir:      dir,
		stem:     stem,
		ext:      ext,
		tag:      sessionTag,
		maxBytes: maxBytes,
		keep:     keepFiles,
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteRecord appends one record, rotating first if the segment would
// exceed its size budget.
func (w *Writer) WriteRecord(rt RecordType, ts robot.Timestamps, payload []byte) error {
	if w.out == nil {
		return fmt.Errorf("writer is closed")
	}
	if len(payload) > 0xFFFF {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	add := uint64(RecordHeaderSize + len(payload))
	if w.maxBytes > 0 && w.bytesWritten+add > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	hdr := encodeRecordHeader(RecordHeader{
		Type:       rt,
		PayloadLen: uint16(len(payload)),
		TS:         ts,
	})
	if _, err := w.out.Write(hdr); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := w.out.Write(payload); err != nil {
		return fmt.Errorf("write record payload: %w", err)
	}
	w.bytesWritten += add
	return nil
}

// Segments returns how many segments this writer has opened.
func (w *Writer) Segments() int {
	return w.segments
}

// Path returns the path of the segment currently being written.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, w.segmentName(w.index-1))
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	if w.out == nil {
		return nil
	}
	err := w.out.Close()
	w.out = nil
	return err
}

func (w *Writer) segmentName(index int) string {
	return fmt.Sprintf("%s_%s_%d%s", w.stem, w.tag, index, w.ext)
}

func (w *Writer) rotate() error {
	if err := w.out.Close(); err != nil {
		monitoring.Warnf("[log] close segment: %v", err)
	}
	w.out = nil
	return w.openSegment()
}

func (w *Writer) openSegment() error {
	name := w.segmentName(w.index)
	path := filepath.Join(w.dir, name)

	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("open log segment %s: %w", path, err)
	}
	if _, err := f.Write(encodeFileHeader()); err != nil {
		f.Close()
		return fmt.Errorf("write file header: %w", err)
	}

	w.out = f
	w.index++
	w.segments++
	w.bytesWritten = FileHeaderSize

	w.cleanup()
	monitoring.Logf("[log] writing %s", path)
	return nil
}

// cleanup removes the oldest segments of this session beyond the keep
// budget. Best effort: failures are logged and ignored.
func (w *Writer) cleanup() {
	if w.keep <= 0 {
		return
	}

	names, err := w.fs.List(w.dir)
	if err != nil {
		return
	}

	prefix := w.stem + "_" + w.tag + "_"
	var matches []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, w.ext) {
			matches = append(matches, n)
		}
	}

	for len(matches) > w.keep {
		victim := filepath.Join(w.dir, matches[0])
		if err := w.fs.Remove(victim); err != nil {
			monitoring.Warnf("[log] remove old segment %s: %v", victim, err)
			break
		}
		matches = matches[1:]
	}
}
