package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"liftsim/internal/protocol"
)

func p(name string, origin, dest int) protocol.Passenger {
	return protocol.Passenger{Name: name, Origin: origin, Destination: dest}
}

func TestMemory_AppendAndListKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, x := range []protocol.Passenger{p("a", 1, 2), p("b", 3, 0), p("a", 1, 2)} {
		if _, err := m.AppendRequest(ctx, x); err != nil {
			t.Fatalf("AppendRequest: %v", err)
		}
	}
	got, _ := m.ListRequests(ctx)
	want := []protocol.Passenger{p("a", 1, 2), p("b", 3, 0), p("a", 1, 2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("requests=%v want %v", got, want)
	}
	riders, _ := m.ListRiders(ctx)
	if len(riders) != 0 {
		t.Fatalf("riders=%v want empty", riders)
	}
}

func TestMemory_AppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.AppendRequest(ctx, p("", 1, 2)); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("err=%v want ErrInvalidRecord", err)
	}
	if _, err := m.AppendRider(ctx, p("x", -1, 2)); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("err=%v want ErrInvalidRecord", err)
	}
	st, _ := m.State(ctx)
	if len(st.Requests) != 0 || len(st.Riders) != 0 {
		t.Fatalf("invalid record reached the store: %+v", st)
	}
}

func TestMemory_DeleteAtShiftsLeft(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, x := range []protocol.Passenger{p("a", 0, 1), p("b", 0, 2), p("c", 0, 3), p("d", 0, 4)} {
		_, _ = m.AppendRider(ctx, x)
	}
	removed, err := m.DeleteRiderAt(ctx, 1)
	if err != nil {
		t.Fatalf("DeleteRiderAt: %v", err)
	}
	if removed != p("b", 0, 2) {
		t.Fatalf("removed=%v", removed)
	}
	got, _ := m.ListRiders(ctx)
	want := []protocol.Passenger{p("a", 0, 1), p("c", 0, 3), p("d", 0, 4)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("riders=%v want %v", got, want)
	}
}

func TestMemory_DeleteOutOfRangeLeavesSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.AppendRequest(ctx, p("a", 1, 2))
	_, _ = m.AppendRequest(ctx, p("b", 2, 3))

	for _, i := range []int{-1, 2, 7} {
		if _, err := m.DeleteRequestAt(ctx, i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("DeleteRequestAt(%d) err=%v want ErrIndexOutOfRange", i, err)
		}
	}
	got, _ := m.ListRequests(ctx)
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("sequence modified: %v", got)
	}
}

func TestMemory_ListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.AppendRequest(ctx, p("a", 1, 2))
	got, _ := m.ListRequests(ctx)
	got[0].Name = "mutated"
	again, _ := m.ListRequests(ctx)
	if again[0].Name != "a" {
		t.Fatalf("store aliased by caller: %v", again)
	}
}

func TestMemory_ResetAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.AppendRequest(ctx, p("a", 1, 2))
	_, _ = m.AppendRider(ctx, p("b", 1, 2))

	if err := m.ClearRequests(ctx); err != nil {
		t.Fatalf("ClearRequests: %v", err)
	}
	st, _ := m.State(ctx)
	if len(st.Requests) != 0 || len(st.Riders) != 1 {
		t.Fatalf("after ClearRequests: %+v", st)
	}
	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st, _ = m.State(ctx)
	if len(st.Requests) != 0 || len(st.Riders) != 0 {
		t.Fatalf("after Reset: %+v", st)
	}
}

func TestNewMemoryFrom(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemoryFrom(protocol.State{
		Requests: []protocol.Passenger{p("a", 1, 2)},
		Riders:   []protocol.Passenger{p("b", 0, 5)},
	})
	if err != nil {
		t.Fatalf("NewMemoryFrom: %v", err)
	}
	st, _ := m.State(ctx)
	if len(st.Requests) != 1 || len(st.Riders) != 1 {
		t.Fatalf("state=%+v", st)
	}
	if _, err := NewMemoryFrom(protocol.State{Riders: []protocol.Passenger{p("", 0, 1)}}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("err=%v want ErrInvalidRecord", err)
	}
}
