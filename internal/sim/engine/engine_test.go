package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"liftsim/internal/persistence/sqlitestore"
	"liftsim/internal/protocol"
	"liftsim/internal/store"
)

func pass(name string, origin, dest int) protocol.Passenger {
	return protocol.Passenger{Name: name, Origin: origin, Destination: dest}
}

// Recorder keeps every event it receives.
type Recorder struct {
	Events []protocol.CarEvent
}

func (r *Recorder) Emit(ev protocol.CarEvent) { r.Events = append(r.Events, ev) }

func (r *Recorder) Kinds() []string {
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Kind)
	}
	return out
}

// recordingStore logs the mutations the engine issues and can inject faults.
type recordingStore struct {
	store.Store
	calls      []string
	deleteErr  error
	ridersDown bool
}

func (r *recordingStore) DeleteRequestAt(ctx context.Context, i int) (protocol.Passenger, error) {
	r.calls = append(r.calls, fmt.Sprintf("DeleteRequestAt(%d)", i))
	if r.deleteErr != nil {
		return protocol.Passenger{}, r.deleteErr
	}
	return r.Store.DeleteRequestAt(ctx, i)
}

func (r *recordingStore) DeleteRiderAt(ctx context.Context, i int) (protocol.Passenger, error) {
	r.calls = append(r.calls, fmt.Sprintf("DeleteRiderAt(%d)", i))
	return r.Store.DeleteRiderAt(ctx, i)
}

func (r *recordingStore) AppendRider(ctx context.Context, p protocol.Passenger) (protocol.Passenger, error) {
	r.calls = append(r.calls, "AppendRider("+p.Name+")")
	return r.Store.AppendRider(ctx, p)
}

func (r *recordingStore) ListRiders(ctx context.Context) ([]protocol.Passenger, error) {
	if r.ridersDown {
		return nil, fmt.Errorf("%w: connection refused", store.ErrTransportUnavailable)
	}
	return r.Store.ListRiders(ctx)
}

func newEngine(t *testing.T, opts Options) (*Engine, *recordingStore) {
	t.Helper()
	rs := &recordingStore{Store: store.NewMemory()}
	return New(rs, opts), rs
}

func wantCar(t *testing.T, e *Engine, floor, stops, traversed int) {
	t.Helper()
	got := e.State()
	want := protocol.CarState{Floor: floor, Stops: stops, FloorsTraversed: traversed}
	if got != want {
		t.Fatalf("car=%+v want %+v", got, want)
	}
}

func wantEmpty(t *testing.T, s store.Store) {
	t.Helper()
	st, err := s.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Requests) != 0 || len(st.Riders) != 0 {
		t.Fatalf("store not empty: %+v", st)
	}
}

func TestMoves_CountEveryFloorAndClampAtZero(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, Options{})

	if err := e.MoveDown(ctx); err != nil {
		t.Fatalf("MoveDown: %v", err)
	}
	wantCar(t, e, 0, 0, 0)

	for i := 0; i < 3; i++ {
		if err := e.MoveUp(ctx); err != nil {
			t.Fatalf("MoveUp: %v", err)
		}
	}
	if err := e.MoveDown(ctx); err != nil {
		t.Fatalf("MoveDown: %v", err)
	}
	wantCar(t, e, 2, 0, 4)
}

func TestStopCheck_NoStopBeforeFirstMove(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	if err := e.Register(ctx, pass("x", 0, 0)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	stop, err := e.StopCheck(ctx)
	if err != nil {
		t.Fatalf("StopCheck: %v", err)
	}
	if stop {
		t.Fatalf("stop reported with zero floors traversed")
	}
	// the transfer itself still happened
	wantEmpty(t, rs)
}

func TestPickupCheck_DeletesHighestIndexFirst(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	for _, p := range []protocol.Passenger{
		pass("A", 2, 5), pass("X", 1, 3), pass("B", 2, 0),
		pass("C", 2, 4), pass("Y", 3, 1), pass("D", 2, 6),
	} {
		if err := e.Register(ctx, p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	e.floor = 2

	picked, err := e.PickupCheck(ctx)
	if err != nil || !picked {
		t.Fatalf("PickupCheck=%v,%v", picked, err)
	}
	wantCalls := []string{
		"DeleteRequestAt(5)", "DeleteRequestAt(3)", "DeleteRequestAt(2)", "DeleteRequestAt(0)",
		"AppendRider(A)", "AppendRider(B)", "AppendRider(C)", "AppendRider(D)",
	}
	if !reflect.DeepEqual(rs.calls, wantCalls) {
		t.Fatalf("calls=%v\nwant %v", rs.calls, wantCalls)
	}
	st, _ := rs.State(ctx)
	if !reflect.DeepEqual(st.Requests, []protocol.Passenger{pass("X", 1, 3), pass("Y", 3, 1)}) {
		t.Fatalf("requests=%v", st.Requests)
	}
	if len(st.Riders) != 4 {
		t.Fatalf("riders=%v", st.Riders)
	}
}

func TestPickupCheck_IdenticalPassengersAreNotMerged(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	for _, p := range []protocol.Passenger{
		pass("Sam", 2, 4), pass("Sam", 2, 4), pass("Kim", 1, 4), pass("Sam", 2, 4),
	} {
		if err := e.Register(ctx, p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	e.floor = 2

	if picked, err := e.PickupCheck(ctx); err != nil || !picked {
		t.Fatalf("PickupCheck=%v,%v", picked, err)
	}
	wantCalls := []string{
		"DeleteRequestAt(3)", "DeleteRequestAt(1)", "DeleteRequestAt(0)",
		"AppendRider(Sam)", "AppendRider(Sam)", "AppendRider(Sam)",
	}
	if !reflect.DeepEqual(rs.calls, wantCalls) {
		t.Fatalf("calls=%v\nwant %v", rs.calls, wantCalls)
	}
	st, _ := rs.State(ctx)
	if !reflect.DeepEqual(st.Requests, []protocol.Passenger{pass("Kim", 1, 4)}) {
		t.Fatalf("requests=%v", st.Requests)
	}
	if len(st.Riders) != 3 {
		t.Fatalf("riders=%v want three copies of Sam", st.Riders)
	}
}

func TestDropoffCheck_DeletesHighestIndexFirst(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	e, rs := newEngine(t, Options{Sink: rec})
	for _, p := range []protocol.Passenger{pass("A", 0, 2), pass("X", 0, 4), pass("B", 0, 2), pass("C", 0, 2)} {
		if _, err := rs.Store.AppendRider(ctx, p); err != nil {
			t.Fatalf("AppendRider: %v", err)
		}
	}
	e.floor = 2

	dropped, err := e.DropoffCheck(ctx)
	if err != nil || !dropped {
		t.Fatalf("DropoffCheck=%v,%v", dropped, err)
	}
	wantCalls := []string{"DeleteRiderAt(3)", "DeleteRiderAt(2)", "DeleteRiderAt(0)"}
	if !reflect.DeepEqual(rs.calls, wantCalls) {
		t.Fatalf("calls=%v want %v", rs.calls, wantCalls)
	}
	riders, _ := rs.ListRiders(ctx)
	if !reflect.DeepEqual(riders, []protocol.Passenger{pass("X", 0, 4)}) {
		t.Fatalf("riders=%v", riders)
	}
	if len(rec.Events) != 1 || rec.Events[0].Kind != protocol.EventDropoff {
		t.Fatalf("events=%v", rec.Kinds())
	}
	names := []string{}
	for _, p := range rec.Events[0].Passengers {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"A", "B", "C"}) {
		t.Fatalf("dropped=%v", names)
	}
}

func TestDispatch_EmptyStoreIsNoop(t *testing.T) {
	rec := &Recorder{}
	e, rs := newEngine(t, Options{Sink: rec})
	if err := e.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 0, 0, 0)
	if len(rs.calls) != 0 || len(rec.Events) != 0 {
		t.Fatalf("calls=%v events=%v", rs.calls, rec.Kinds())
	}
}

func TestDispatch_SingleRequest(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	if err := e.Register(ctx, pass("Anne", 1, 3)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 3, 2, 3)
	wantEmpty(t, rs)
}

func TestDispatch_SingleRequestOverSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "liftsim.db"))
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rs := &recordingStore{Store: st}
	e := New(rs, Options{})
	if err := e.Register(ctx, pass("Anne", 1, 3)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 3, 2, 3)
	wantEmpty(t, st)
	wantCalls := []string{"DeleteRequestAt(0)", "AppendRider(Anne)", "DeleteRiderAt(0)"}
	if !reflect.DeepEqual(rs.calls, wantCalls) {
		t.Fatalf("calls=%v want %v", rs.calls, wantCalls)
	}
}

func TestDispatch_RoundTrip(t *testing.T) {
	cases := []struct{ a, b int }{
		{1, 3}, {3, 1}, {0, 4}, {4, 0}, {2, 2}, {0, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_to_%d", tc.a, tc.b), func(t *testing.T) {
			ctx := context.Background()
			e, rs := newEngine(t, Options{})
			if err := e.Register(ctx, pass("p", tc.a, tc.b)); err != nil {
				t.Fatalf("Register: %v", err)
			}
			if err := e.Dispatch(ctx); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			car := e.State()
			if car.Floor != tc.b {
				t.Fatalf("floor=%d want %d", car.Floor, tc.b)
			}
			if tc.a != tc.b && car.Stops < 1 {
				t.Fatalf("stops=%d want >= 1", car.Stops)
			}
			d := tc.a - tc.b
			if d < 0 {
				d = -d
			}
			if car.FloorsTraversed != tc.a+d {
				t.Fatalf("traversed=%d want %d", car.FloorsTraversed, tc.a+d)
			}
			wantEmpty(t, rs)
		})
	}
}

func TestDispatch_TwoRidersSameOriginDropInBoardingOrder(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	e, rs := newEngine(t, Options{Sink: rec})
	_ = e.Register(ctx, pass("A", 2, 5))
	_ = e.Register(ctx, pass("B", 2, 1))
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 1, 3, 9)
	wantEmpty(t, rs)

	var order []string
	for _, ev := range rec.Events {
		if ev.Kind != protocol.EventDropoff {
			continue
		}
		for _, p := range ev.Passengers {
			order = append(order, fmt.Sprintf("%s@%d", p.Name, ev.Car.Floor))
		}
	}
	if !reflect.DeepEqual(order, []string{"A@5", "B@1"}) {
		t.Fatalf("dropoffs=%v", order)
	}
}

func TestDispatch_DropsRidersOnTheWay(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	_ = e.Register(ctx, pass("A", 1, 5))
	_ = e.Register(ctx, pass("B", 1, 3))
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 5, 3, 5)
	wantEmpty(t, rs)
}

func TestDispatch_PicksUpRequestsOnTheWay(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	_ = e.Register(ctx, pass("A", 1, 4))
	_ = e.Register(ctx, pass("B", 2, 3))
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// stops at 1 (A in), 2 (B in), 3 (B out), 4 (A out)
	wantCar(t, e, 4, 4, 4)
	wantEmpty(t, rs)
}

func TestDispatch_StaleIndexPropagates(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	_ = e.Register(ctx, pass("A", 1, 3))
	rs.deleteErr = fmt.Errorf("%w: request 0 of 0", store.ErrIndexOutOfRange)

	err := e.Dispatch(ctx)
	if !errors.Is(err, store.ErrIndexOutOfRange) {
		t.Fatalf("err=%v want ErrIndexOutOfRange", err)
	}
	wantCar(t, e, 1, 0, 1)
}

func TestDispatch_TransportFailurePropagates(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	_ = e.Register(ctx, pass("A", 1, 3))
	rs.ridersDown = true

	err := e.Dispatch(ctx)
	if !errors.Is(err, store.ErrTransportUnavailable) {
		t.Fatalf("err=%v want ErrTransportUnavailable", err)
	}
	wantCar(t, e, 0, 0, 0)
}

func TestDispatch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, _ := newEngine(t, Options{})
	_ = e.Register(ctx, pass("A", 3, 0))
	cancel()
	if err := e.Dispatch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestDispatch_LobbyReturn(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	e, _ := newEngine(t, Options{Policy: Always, Sink: rec})
	_ = e.Register(ctx, pass("Anne", 1, 3))
	if err := e.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wantCar(t, e, 0, 2, 6)
	kinds := rec.Kinds()
	if kinds[len(kinds)-1] != protocol.EventLobby {
		t.Fatalf("last event=%s want %s", kinds[len(kinds)-1], protocol.EventLobby)
	}
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()
	e, rs := newEngine(t, Options{})
	_ = e.Register(ctx, pass("Anne", 1, 3))
	_ = e.Register(ctx, pass("Bob", 7, 2))
	if err := e.MoveUp(ctx); err != nil {
		t.Fatalf("MoveUp: %v", err)
	}
	if err := e.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	wantCar(t, e, 0, 0, 0)
	wantEmpty(t, rs)
	if snap, err := e.Mirror().Snapshot(); err != nil || len(snap.Riders) != 0 {
		t.Fatalf("mirror after reset=%+v, %v", snap, err)
	}
}

func TestDriveTo_RejectsNegativeFloor(t *testing.T) {
	e, _ := newEngine(t, Options{})
	if err := e.DriveTo(context.Background(), -1); err == nil {
		t.Fatalf("expected error")
	}
	wantCar(t, e, 0, 0, 0)
}

func TestSinks_FanOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	ctx := context.Background()
	e, _ := newEngine(t, Options{Sink: Sinks{a, nil, b}})
	if err := e.MoveUp(ctx); err != nil {
		t.Fatalf("MoveUp: %v", err)
	}
	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("a=%v b=%v", a.Kinds(), b.Kinds())
	}
	if a.Events[0].Seq != 1 || a.Events[0].Car.Floor != 1 {
		t.Fatalf("event=%+v", a.Events[0])
	}
}
