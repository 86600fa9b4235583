package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/liftsim.db)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	q := "counts"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "liftsim.db")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(os.Stdout, db, q, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

// runQuery prints one of: counts, requests, riders, meta.
func runQuery(w io.Writer, db *sql.DB, q string, limit int) error {
	if limit <= 0 {
		limit = 50
	}
	switch q {
	case "counts":
		var r struct {
			Requests int `json:"requests"`
			Riders   int `json:"riders"`
		}
		row := db.QueryRow(`SELECT
			(SELECT COUNT(*) FROM passengers WHERE kind='request'),
			(SELECT COUNT(*) FROM passengers WHERE kind='rider')`)
		if err := row.Scan(&r.Requests, &r.Riders); err != nil {
			return err
		}
		printJSON(w, r)

	case "requests", "riders":
		kind := strings.TrimSuffix(q, "s")
		rows, err := db.Query(`SELECT id,name,origin,destination FROM passengers WHERE kind=? ORDER BY id LIMIT ?`, kind, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		index := 0
		for rows.Next() {
			var r struct {
				Index        int    `json:"index"`
				ID           int64  `json:"id"`
				Name         string `json:"name"`
				CurrentFloor int    `json:"currentFloor"`
				DropOffFloor int    `json:"dropOffFloor"`
			}
			if err := rows.Scan(&r.ID, &r.Name, &r.CurrentFloor, &r.DropOffFloor); err != nil {
				return err
			}
			r.Index = index
			index++
			printJSON(w, r)
		}
		return rows.Err()

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s=%s\n", k, v)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (want counts|requests|riders|meta)", q)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
