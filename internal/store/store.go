// Package store defines the authoritative holder of pending requests and
// active riders, and an in-process implementation of it.
package store

import (
	"context"
	"errors"
	"fmt"

	"liftsim/internal/protocol"
)

var (
	// ErrInvalidRecord rejects a malformed passenger before it reaches a sequence.
	ErrInvalidRecord = errors.New("invalid passenger record")
	// ErrIndexOutOfRange means a delete targeted an index that is not current.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrTransportUnavailable means the store could not be reached.
	ErrTransportUnavailable = errors.New("store unavailable")
)

// Lister is the read half of a Store.
type Lister interface {
	ListRequests(ctx context.Context) ([]protocol.Passenger, error)
	ListRiders(ctx context.Context) ([]protocol.Passenger, error)
}

// Store holds two ordered sequences. Deleting at index i shifts every later
// element left by one; there is no atomic read-modify-write.
type Store interface {
	Lister
	State(ctx context.Context) (protocol.State, error)
	AppendRequest(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error)
	AppendRider(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error)
	DeleteRequestAt(ctx context.Context, i int) (protocol.Passenger, error)
	DeleteRiderAt(ctx context.Context, i int) (protocol.Passenger, error)
	Reset(ctx context.Context) error
}

// Clearer is implemented by stores that can empty one sequence at a time.
type Clearer interface {
	ClearRequests(ctx context.Context) error
	ClearRiders(ctx context.Context) error
}

// Validate reports whether p may be appended. Failures wrap ErrInvalidRecord.
func Validate(p protocol.Passenger) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
