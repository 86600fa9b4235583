// Package mirror keeps a client-side copy of the two store sequences.
// Nothing in it is authoritative: callers refresh before every decision.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

// ErrNotSynced is returned by reads issued before the first successful Refresh.
var ErrNotSynced = errors.New("mirror: not synced")

// Snapshot is one point-in-time copy of both sequences.
type Snapshot struct {
	Requests  []protocol.Passenger
	Riders    []protocol.Passenger
	Version   uint64
	FetchedAt time.Time
}

type Mirror struct {
	src store.Lister
	now func() time.Time

	mu      sync.Mutex
	cur     *Snapshot
	version uint64
}

func New(src store.Lister) *Mirror {
	return &Mirror{src: src, now: time.Now}
}

// Refresh lists requests, then riders, and replaces both copies together. On
// failure the previous snapshot is kept untouched.
func (m *Mirror) Refresh(ctx context.Context) error {
	requests, err := m.src.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("mirror: list requests: %w", err)
	}
	riders, err := m.src.ListRiders(ctx)
	if err != nil {
		return fmt.Errorf("mirror: list riders: %w", err)
	}
	if requests == nil {
		requests = []protocol.Passenger{}
	}
	if riders == nil {
		riders = []protocol.Passenger{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.cur = &Snapshot{
		Requests:  requests,
		Riders:    riders,
		Version:   m.version,
		FetchedAt: m.now(),
	}
	return nil
}

// Snapshot returns a deep copy of the latest refresh.
func (m *Mirror) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Snapshot{}, ErrNotSynced
	}
	out := Snapshot{Version: m.cur.Version, FetchedAt: m.cur.FetchedAt}
	if err := deepcopy.Copy(&out.Requests, m.cur.Requests); err != nil {
		return Snapshot{}, fmt.Errorf("mirror: copy requests: %w", err)
	}
	if err := deepcopy.Copy(&out.Riders, m.cur.Riders); err != nil {
		return Snapshot{}, fmt.Errorf("mirror: copy riders: %w", err)
	}
	return out, nil
}

func (m *Mirror) Requests() ([]protocol.Passenger, error) {
	s, err := m.Snapshot()
	return s.Requests, err
}

func (m *Mirror) Riders() ([]protocol.Passenger, error) {
	s, err := m.Snapshot()
	return s.Riders, err
}

// Synced reports whether at least one Refresh has succeeded.
func (m *Mirror) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}
