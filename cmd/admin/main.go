package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"liftsim/internal/persistence/journal"
	"liftsim/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "reset":
			resetCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the runtime files under the data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	err := filepath.WalkDir(*dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(*dataDir, path)
		fmt.Printf("%-48s %10d %s\n", rel, info.Size(), info.ModTime().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
}

// snapshotCmd prints a snapshot file, or asks a running server to write one
// with -url.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("path", "", "snapshot path (optional; defaults to <data>/snapshots/state.snap.zst)")
	headerOnly := fs.Bool("header", false, "print only the header")
	baseURL := fs.String("url", "", "trigger a snapshot on this server instead of reading a file")
	_ = fs.Parse(args)

	if strings.TrimSpace(*baseURL) != "" {
		triggerSnapshot(*baseURL)
		return
	}
	p := strings.TrimSpace(*path)
	if p == "" {
		p = filepath.Join(*dataDir, "snapshots", "state.snap.zst")
	}
	if err := printSnapshot(os.Stdout, p, *headerOnly); err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
}

func printSnapshot(w io.Writer, path string, headerOnly bool) error {
	if headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			return err
		}
		return writeJSON(w, h)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	return writeJSON(w, snap)
}

// journalCmd prints dispatch events from the journal, one JSON line each.
func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dir := fs.String("dir", "", "journal directory (optional; defaults to <data>/journal)")
	kind := fs.String("kind", "", "only events of this kind (move|pickup|dropoff|stop|lobby|reset)")
	_ = fs.Parse(args)

	d := strings.TrimSpace(*dir)
	if d == "" {
		d = filepath.Join(*dataDir, "journal")
	}
	n, err := printJournal(os.Stdout, d, strings.TrimSpace(*kind))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d event(s)\n", n)
}

func printJournal(w io.Writer, dir, kind string) (int, error) {
	files, err := journal.Files(dir)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	n := 0
	for _, f := range files {
		evs, err := journal.ReadFile(f)
		if err != nil {
			return n, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		for _, ev := range evs {
			if kind != "" && ev.Kind != kind {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
