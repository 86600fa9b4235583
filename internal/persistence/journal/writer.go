// Package journal keeps an append-only, zstd-compressed JSONL record of car
// events, one file per UTC hour.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// ErrClosed is returned by Write once the writer has been closed.
var ErrClosed = errors.New("journal: writer closed")

type Options struct {
	// OnClose is called with the path of every hourly file the writer finishes,
	// including the last one on Close.
	OnClose func(path string)
	// Now overrides the clock used to pick the hourly file.
	Now func() time.Time
}

// hourFile is one open hourly segment.
type hourFile struct {
	hour string
	path string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func (h *hourFile) writeLine(b []byte) error {
	if _, err := h.buf.Write(b); err != nil {
		return err
	}
	if err := h.buf.WriteByte('\n'); err != nil {
		return err
	}
	return h.buf.Flush()
}

func (h *hourFile) close() error {
	flushErr := h.buf.Flush()
	encErr := h.enc.Close()
	fileErr := h.f.Close()
	return errors.Join(flushErr, encErr, fileErr)
}

// JSONLZstdWriter appends JSON lines to <dir>/<prefix>-<hour>.jsonl.zst,
// starting a new zstd frame whenever it reopens a file.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	opts   Options

	mu     sync.Mutex
	cur    *hourFile
	closed bool
}

func NewJSONLZstdWriter(dir, prefix string, opts Options) *JSONLZstdWriter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JSONLZstdWriter{dir: dir, prefix: prefix, opts: opts}
}

// Write appends v as one JSON line.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	hour := w.opts.Now().UTC().Format(hourLayout)
	if w.cur == nil || w.cur.hour != hour {
		if err := w.finishLocked(); err != nil {
			return err
		}
		hf, err := w.open(hour)
		if err != nil {
			return err
		}
		w.cur = hf
	}
	return w.cur.writeLine(b)
}

// Close finishes the current file. Later writes fail with ErrClosed.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.finishLocked()
}

func (w *JSONLZstdWriter) finishLocked() error {
	if w.cur == nil {
		return nil
	}
	hf := w.cur
	w.cur = nil
	err := hf.close()
	if w.opts.OnClose != nil {
		w.opts.OnClose(hf.path)
	}
	return err
}

func (w *JSONLZstdWriter) open(hour string) (*hourFile, error) {
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &hourFile{hour: hour, path: path, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 32*1024)}, nil
}
