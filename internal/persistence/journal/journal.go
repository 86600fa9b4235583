package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"liftsim/internal/protocol"
)

const prefix = "car"

// EventJournal writes every car event it receives. Write failures are logged
// and counted; they never reach the engine.
type EventJournal struct {
	w      *JSONLZstdWriter
	log    *log.Logger
	failed atomic.Uint64
}

func NewEventJournal(dir string, logger *log.Logger, opts Options) *EventJournal {
	return &EventJournal{w: NewJSONLZstdWriter(dir, prefix, opts), log: logger}
}

func (j *EventJournal) Emit(ev protocol.CarEvent) {
	if err := j.w.Write(ev); err != nil {
		j.failed.Add(1)
		if j.log != nil {
			j.log.Printf("journal: write seq=%d: %v", ev.Seq, err)
		}
	}
}

// Failed counts events that could not be written.
func (j *EventJournal) Failed() uint64 { return j.failed.Load() }

func (j *EventJournal) Close() error { return j.w.Close() }

// Files lists journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every event in one journal file.
func ReadFile(path string) ([]protocol.CarEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) ([]protocol.CarEvent, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []protocol.CarEvent
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for line := 1; sc.Scan(); line++ {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev protocol.CarEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
