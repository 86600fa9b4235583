package store

import (
	"context"
	"fmt"
	"sync"

	"liftsim/internal/protocol"
)

// Memory is the in-process Store. It is safe for concurrent use; every
// operation holds the lock for its whole duration.
type Memory struct {
	mu       sync.Mutex
	requests []protocol.Passenger
	riders   []protocol.Passenger
}

func NewMemory() *Memory { return &Memory{} }

// NewMemoryFrom seeds a store from a saved state. Invalid records are rejected.
func NewMemoryFrom(st protocol.State) (*Memory, error) {
	m := &Memory{}
	for i, p := range st.Requests {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
	}
	for i, p := range st.Riders {
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("riders[%d]: %w", i, err)
		}
	}
	m.requests = append(m.requests, st.Requests...)
	m.riders = append(m.riders, st.Riders...)
	return m, nil
}

func (m *Memory) ListRequests(ctx context.Context) ([]protocol.Passenger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePassengers(m.requests), nil
}

func (m *Memory) ListRiders(ctx context.Context) ([]protocol.Passenger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePassengers(m.riders), nil
}

func (m *Memory) State(ctx context.Context) (protocol.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return protocol.State{
		Requests: clonePassengers(m.requests),
		Riders:   clonePassengers(m.riders),
	}, nil
}

func (m *Memory) AppendRequest(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	if err := Validate(p); err != nil {
		return protocol.Passenger{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, p)
	return p, nil
}

func (m *Memory) AppendRider(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	if err := Validate(p); err != nil {
		return protocol.Passenger{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders = append(m.riders, p)
	return p, nil
}

func (m *Memory) DeleteRequestAt(ctx context.Context, i int) (protocol.Passenger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteAt(&m.requests, i, "request")
}

func (m *Memory) DeleteRiderAt(ctx context.Context, i int) (protocol.Passenger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deleteAt(&m.riders, i, "rider")
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.riders = nil
	return nil
}

func (m *Memory) ClearRequests(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	return nil
}

func (m *Memory) ClearRiders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders = nil
	return nil
}

// deleteAt removes (*seq)[i] keeping the order of the rest. The backing array
// is never reused so slices handed out earlier stay intact.
func deleteAt(seq *[]protocol.Passenger, i int, what string) (protocol.Passenger, error) {
	s := *seq
	if i < 0 || i >= len(s) {
		return protocol.Passenger{}, fmt.Errorf("%w: %s %d of %d", ErrIndexOutOfRange, what, i, len(s))
	}
	removed := s[i]
	out := make([]protocol.Passenger, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	*seq = out
	return removed, nil
}

func clonePassengers(in []protocol.Passenger) []protocol.Passenger {
	out := make([]protocol.Passenger, len(in))
	copy(out, in)
	return out
}
