// Package storetest is a black-box conformance suite for store.Store
// implementations. Each backend's tests call Run with a constructor that
// returns an empty store.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

// Run exercises the Store contract against stores produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("empty", func(t *testing.T) {
		s := newStore(t)
		st, err := s.State(context.Background())
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if len(st.Requests) != 0 || len(st.Riders) != 0 {
			t.Fatalf("fresh store not empty: %+v", st)
		}
	})

	t.Run("append keeps order and duplicates", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		in := []protocol.Passenger{P("ann", 1, 3), P("bob", 2, 0), P("ann", 1, 3)}
		for _, p := range in {
			got, err := s.AppendRequest(ctx, p)
			if err != nil {
				t.Fatalf("AppendRequest(%v): %v", p, err)
			}
			if got != p {
				t.Fatalf("AppendRequest returned %v want %v", got, p)
			}
		}
		got, err := s.ListRequests(ctx)
		if err != nil {
			t.Fatalf("ListRequests: %v", err)
		}
		if !reflect.DeepEqual(got, in) {
			t.Fatalf("requests=%v want %v", got, in)
		}
		riders, err := s.ListRiders(ctx)
		if err != nil {
			t.Fatalf("ListRiders: %v", err)
		}
		if len(riders) != 0 {
			t.Fatalf("riders=%v want empty", riders)
		}
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		bad := []protocol.Passenger{P("", 1, 2), P("x", -1, 2), P("x", 1, -2)}
		for _, p := range bad {
			if _, err := s.AppendRequest(ctx, p); !errors.Is(err, store.ErrInvalidRecord) {
				t.Fatalf("AppendRequest(%v) err=%v want ErrInvalidRecord", p, err)
			}
			if _, err := s.AppendRider(ctx, p); !errors.Is(err, store.ErrInvalidRecord) {
				t.Fatalf("AppendRider(%v) err=%v want ErrInvalidRecord", p, err)
			}
		}
		st, err := s.State(ctx)
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if len(st.Requests) != 0 || len(st.Riders) != 0 {
			t.Fatalf("invalid records stored: %+v", st)
		}
	})

	t.Run("delete shifts left", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, p := range []protocol.Passenger{P("a", 0, 1), P("b", 0, 2), P("c", 0, 3), P("d", 0, 4)} {
			if _, err := s.AppendRider(ctx, p); err != nil {
				t.Fatalf("AppendRider: %v", err)
			}
		}
		removed, err := s.DeleteRiderAt(ctx, 2)
		if err != nil {
			t.Fatalf("DeleteRiderAt: %v", err)
		}
		if removed != P("c", 0, 3) {
			t.Fatalf("removed=%v", removed)
		}
		removed, err = s.DeleteRiderAt(ctx, 0)
		if err != nil {
			t.Fatalf("DeleteRiderAt: %v", err)
		}
		if removed != P("a", 0, 1) {
			t.Fatalf("removed=%v", removed)
		}
		got, _ := s.ListRiders(ctx)
		want := []protocol.Passenger{P("b", 0, 2), P("d", 0, 4)}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("riders=%v want %v", got, want)
		}
	})

	t.Run("stale index fails without modifying", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _ = s.AppendRequest(ctx, P("a", 1, 2))
		_, _ = s.AppendRequest(ctx, P("b", 3, 4))
		if _, err := s.DeleteRequestAt(ctx, 1); err != nil {
			t.Fatalf("DeleteRequestAt: %v", err)
		}
		// index 1 was valid a moment ago
		if _, err := s.DeleteRequestAt(ctx, 1); !errors.Is(err, store.ErrIndexOutOfRange) {
			t.Fatalf("err=%v want ErrIndexOutOfRange", err)
		}
		if _, err := s.DeleteRequestAt(ctx, -1); !errors.Is(err, store.ErrIndexOutOfRange) {
			t.Fatalf("err=%v want ErrIndexOutOfRange", err)
		}
		if _, err := s.DeleteRiderAt(ctx, 0); !errors.Is(err, store.ErrIndexOutOfRange) {
			t.Fatalf("err=%v want ErrIndexOutOfRange", err)
		}
		got, _ := s.ListRequests(ctx)
		if !reflect.DeepEqual(got, []protocol.Passenger{P("a", 1, 2)}) {
			t.Fatalf("requests=%v", got)
		}
	})

	t.Run("reset clears both", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, _ = s.AppendRequest(ctx, P("a", 1, 2))
		_, _ = s.AppendRider(ctx, P("b", 2, 1))
		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		st, _ := s.State(ctx)
		if len(st.Requests) != 0 || len(st.Riders) != 0 {
			t.Fatalf("after reset: %+v", st)
		}
		// still usable
		if _, err := s.AppendRider(ctx, P("c", 0, 1)); err != nil {
			t.Fatalf("AppendRider after reset: %v", err)
		}
	})

	t.Run("clear one sequence", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		c, ok := s.(store.Clearer)
		if !ok {
			t.Skip("store does not implement Clearer")
		}
		_, _ = s.AppendRequest(ctx, P("a", 1, 2))
		_, _ = s.AppendRider(ctx, P("b", 2, 1))
		if err := c.ClearRiders(ctx); err != nil {
			t.Fatalf("ClearRiders: %v", err)
		}
		st, _ := s.State(ctx)
		if len(st.Requests) != 1 || len(st.Riders) != 0 {
			t.Fatalf("after ClearRiders: %+v", st)
		}
		if err := c.ClearRequests(ctx); err != nil {
			t.Fatalf("ClearRequests: %v", err)
		}
		st, _ = s.State(ctx)
		if len(st.Requests) != 0 {
			t.Fatalf("after ClearRequests: %+v", st)
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.AppendRequest(ctx, P("p", i, i+1))
			}(i)
		}
		wg.Wait()
		got, err := s.ListRequests(ctx)
		if err != nil {
			t.Fatalf("ListRequests: %v", err)
		}
		if len(got) != 8 {
			t.Fatalf("len=%d want 8", len(got))
		}
	})
}

// P builds a passenger record.
func P(name string, origin, dest int) protocol.Passenger {
	return protocol.Passenger{Name: name, Origin: origin, Destination: dest}
}
