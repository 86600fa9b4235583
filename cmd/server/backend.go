package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"liftsim/internal/config"
	"liftsim/internal/persistence/snapshot"
	"liftsim/internal/persistence/sqlitestore"
	"liftsim/internal/store"
)

// backend is the authoritative store plus whatever it needs on shutdown.
type backend struct {
	store.Store

	// snapshot is set for the memory backend only; the sqlite file is its
	// own persistence.
	snapshot func(ctx context.Context) (string, error)
	close    func() error
}

func openBackend(cfg config.ServerConfig, loadSnapshot bool, logger *log.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		reqs, riders, err := s.Counts(context.Background())
		if err == nil {
			logger.Printf("sqlite store %s: %d request(s), %d rider(s)", cfg.SQLitePath, reqs, riders)
		}
		return &backend{Store: s, close: s.Close}, nil

	case config.BackendMemory:
		mem := store.NewMemory()
		if loadSnapshot {
			loaded, err := loadMemorySnapshot(cfg.SnapshotPath, logger)
			if err != nil {
				return nil, err
			}
			if loaded != nil {
				mem = loaded
			}
		}
		b := &backend{Store: mem}
		b.snapshot = func(ctx context.Context) (string, error) {
			st, err := mem.State(ctx)
			if err != nil {
				return "", err
			}
			if err := snapshot.WriteSnapshot(cfg.SnapshotPath, snapshot.New(st, time.Now())); err != nil {
				return "", err
			}
			return cfg.SnapshotPath, nil
		}
		b.close = func() error {
			path, err := b.snapshot(context.Background())
			if err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			logger.Printf("wrote snapshot %s", path)
			return nil
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

func loadMemorySnapshot(path string, logger *log.Logger) (*store.Memory, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	mem, err := store.NewMemoryFrom(snap.State)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	logger.Printf("resumed from snapshot=%s requests=%d riders=%d written_at=%s",
		path, snap.Header.Requests, snap.Header.Riders, snap.Header.WrittenAt.Format(time.RFC3339))
	return mem, nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
