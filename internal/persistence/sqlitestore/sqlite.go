// Package sqlitestore is a durable store.Store backed by a single SQLite file.
//
// Both sequences live in one table. Insertion order is the AUTOINCREMENT id,
// and position i of a sequence is the i-th row of that kind ordered by id.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

const (
	kindRequest = "request"
	kindRider   = "rider"

	schemaVersion = "1"
)

type Store struct {
	db   *sql.DB
	path string
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Clearer = (*Store)(nil)
)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises every statement, which is what keeps an
	// ordinal delete from racing an append.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS passengers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL CHECK (kind IN ('request','rider')),
			name TEXT NOT NULL,
			origin INTEGER NOT NULL,
			destination INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS passengers_kind_id ON passengers(kind, id);`,
		`INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ListRequests(ctx context.Context) ([]protocol.Passenger, error) {
	return s.list(ctx, kindRequest)
}

func (s *Store) ListRiders(ctx context.Context) ([]protocol.Passenger, error) {
	return s.list(ctx, kindRider)
}

func (s *Store) State(ctx context.Context) (protocol.State, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return protocol.State{}, unavailable(err)
	}
	defer tx.Rollback()

	requests, err := listTx(ctx, tx, kindRequest)
	if err != nil {
		return protocol.State{}, err
	}
	riders, err := listTx(ctx, tx, kindRider)
	if err != nil {
		return protocol.State{}, err
	}
	return protocol.State{Requests: requests, Riders: riders}, nil
}

func (s *Store) AppendRequest(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	return s.append(ctx, kindRequest, p)
}

func (s *Store) AppendRider(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	return s.append(ctx, kindRider, p)
}

func (s *Store) DeleteRequestAt(ctx context.Context, i int) (protocol.Passenger, error) {
	return s.deleteAt(ctx, kindRequest, i)
}

func (s *Store) DeleteRiderAt(ctx context.Context, i int) (protocol.Passenger, error) {
	return s.deleteAt(ctx, kindRider, i)
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM passengers`); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ClearRequests(ctx context.Context) error { return s.clear(ctx, kindRequest) }
func (s *Store) ClearRiders(ctx context.Context) error   { return s.clear(ctx, kindRider) }

func (s *Store) clear(ctx context.Context, kind string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM passengers WHERE kind=?`, kind); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, kind string) ([]protocol.Passenger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name,origin,destination FROM passengers WHERE kind=? ORDER BY id`, kind)
	if err != nil {
		return nil, unavailable(err)
	}
	return scanPassengers(rows)
}

func listTx(ctx context.Context, tx *sql.Tx, kind string) ([]protocol.Passenger, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name,origin,destination FROM passengers WHERE kind=? ORDER BY id`, kind)
	if err != nil {
		return nil, unavailable(err)
	}
	return scanPassengers(rows)
}

func scanPassengers(rows *sql.Rows) ([]protocol.Passenger, error) {
	defer rows.Close()
	out := []protocol.Passenger{}
	for rows.Next() {
		var p protocol.Passenger
		if err := rows.Scan(&p.Name, &p.Origin, &p.Destination); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) append(ctx context.Context, kind string, p protocol.Passenger) (protocol.Passenger, error) {
	if err := store.Validate(p); err != nil {
		return protocol.Passenger{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passengers(kind,name,origin,destination) VALUES(?,?,?,?)`,
		kind, p.Name, p.Origin, p.Destination,
	)
	if err != nil {
		return protocol.Passenger{}, unavailable(err)
	}
	return p, nil
}

func (s *Store) deleteAt(ctx context.Context, kind string, i int) (protocol.Passenger, error) {
	if i < 0 {
		return protocol.Passenger{}, fmt.Errorf("%w: %s %d", store.ErrIndexOutOfRange, kind, i)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.Passenger{}, unavailable(err)
	}
	defer tx.Rollback()

	var (
		id int64
		p  protocol.Passenger
	)
	row := tx.QueryRowContext(ctx,
		`SELECT id,name,origin,destination FROM passengers WHERE kind=? ORDER BY id LIMIT 1 OFFSET ?`,
		kind, i,
	)
	if err := row.Scan(&id, &p.Name, &p.Origin, &p.Destination); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var n int
			_ = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM passengers WHERE kind=?`, kind).Scan(&n)
			return protocol.Passenger{}, fmt.Errorf("%w: %s %d of %d", store.ErrIndexOutOfRange, kind, i, n)
		}
		return protocol.Passenger{}, unavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM passengers WHERE id=?`, id); err != nil {
		return protocol.Passenger{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.Passenger{}, unavailable(err)
	}
	return p, nil
}

// Counts reports how many rows each sequence holds.
func (s *Store) Counts(ctx context.Context) (requests, riders int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM passengers GROUP BY kind`)
	if err != nil {
		return 0, 0, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, unavailable(err)
		}
		switch kind {
		case kindRequest:
			requests = n
		case kindRider:
			riders = n
		}
	}
	return requests, riders, rows.Err()
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: sqlite: %v", store.ErrTransportUnavailable, err)
}
