// Package engine is the dispatch state machine of a single elevator car.
//
// The engine never touches the request and rider sequences directly. Every
// decision is taken on a freshly refreshed mirror and every mutation is a
// store call, so the same code drives an in-process store, a SQLite file or
// a remote HTTP store.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"liftsim/internal/protocol"
	"liftsim/internal/sim/mirror"
	"liftsim/internal/store"
)

type Options struct {
	// Policy decides whether the car returns to floor 0 after a dispatch run.
	// Nil means Never.
	Policy LobbyPolicy
	Sink   EventSink
	Logger *log.Logger
	Clock  func() time.Time
}

// Engine drives one car. It is not safe for concurrent use: exactly one
// caller may drive an engine, and no other engine may share its store while
// it runs, or index-based deletions act on stale positions.
type Engine struct {
	store  store.Store
	mirror *mirror.Mirror
	policy LobbyPolicy
	sink   EventSink
	log    *log.Logger
	now    func() time.Time

	floor     int
	stops     int
	traversed int
	seq       uint64
}

func New(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:  st,
		mirror: mirror.New(st),
		policy: opts.Policy,
		sink:   opts.Sink,
		log:    opts.Logger,
		now:    opts.Clock,
	}
	if e.policy == nil {
		e.policy = Never
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) State() protocol.CarState {
	return protocol.CarState{
		Floor:           e.floor,
		Stops:           e.stops,
		FloorsTraversed: e.traversed,
	}
}

// Mirror exposes the engine's working view. It is only as fresh as the last
// store round trip.
func (e *Engine) Mirror() *mirror.Mirror { return e.mirror }

// Register appends p as a pending request and resyncs the mirror.
func (e *Engine) Register(ctx context.Context, p protocol.Passenger) error {
	if _, err := e.store.AppendRequest(ctx, p); err != nil {
		return fmt.Errorf("register %s: %w", p, err)
	}
	return e.mirror.Refresh(ctx)
}

// ResetAll clears the store and puts the car back at floor 0 with zeroed counters.
func (e *Engine) ResetAll(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	e.floor, e.stops, e.traversed = 0, 0, 0
	e.emit(protocol.EventReset, nil)
	return e.mirror.Refresh(ctx)
}

// MoveUp moves one floor up and runs the stop check on arrival.
func (e *Engine) MoveUp(ctx context.Context) error {
	e.floor++
	e.traversed++
	e.emit(protocol.EventMove, nil)
	return e.arrive(ctx)
}

// MoveDown moves one floor down and runs the stop check on arrival. At floor
// 0 it does nothing.
func (e *Engine) MoveDown(ctx context.Context) error {
	if e.floor <= 0 {
		return nil
	}
	e.floor--
	e.traversed++
	e.emit(protocol.EventMove, nil)
	return e.arrive(ctx)
}

func (e *Engine) arrive(ctx context.Context) error {
	stop, err := e.StopCheck(ctx)
	if err != nil {
		return err
	}
	if stop {
		e.stops++
		e.logf("stop at floor %d (stops=%d traversed=%d)", e.floor, e.stops, e.traversed)
		e.emit(protocol.EventStop, nil)
	}
	return nil
}

// StopCheck runs the pickup check and then the dropoff check, always both.
// It reports a stop only once the car has travelled at least one floor.
func (e *Engine) StopCheck(ctx context.Context) (bool, error) {
	picked, err := e.PickupCheck(ctx)
	if err != nil {
		return false, err
	}
	dropped, err := e.DropoffCheck(ctx)
	if err != nil {
		return false, err
	}
	return (picked || dropped) && e.traversed > 0, nil
}

// PickupCheck moves every request waiting on the current floor into the rider
// sequence. Matches are deleted from the highest index down so that no
// deletion shifts an index still waiting to be deleted, then appended as
// riders in their original order.
func (e *Engine) PickupCheck(ctx context.Context) (bool, error) {
	if err := e.mirror.Refresh(ctx); err != nil {
		return false, fmt.Errorf("pickup at floor %d: %w", e.floor, err)
	}
	requests, err := e.mirror.Requests()
	if err != nil {
		return false, fmt.Errorf("pickup at floor %d: %w", e.floor, err)
	}
	idx := matchIndices(requests, func(p protocol.Passenger) bool { return p.Origin == e.floor })
	if len(idx) == 0 {
		return false, nil
	}

	for k := len(idx) - 1; k >= 0; k-- {
		if _, err := e.store.DeleteRequestAt(ctx, idx[k]); err != nil {
			return false, fmt.Errorf("pickup at floor %d: delete request %d: %w", e.floor, idx[k], err)
		}
	}
	boarded := make([]protocol.Passenger, 0, len(idx))
	for _, i := range idx {
		if _, err := e.store.AppendRider(ctx, requests[i]); err != nil {
			return false, fmt.Errorf("pickup at floor %d: add rider %s: %w", e.floor, requests[i], err)
		}
		boarded = append(boarded, requests[i])
	}
	if err := e.mirror.Refresh(ctx); err != nil {
		return false, fmt.Errorf("pickup at floor %d: %w", e.floor, err)
	}

	e.logf("pickup at floor %d: %v", e.floor, boarded)
	e.emit(protocol.EventPickup, boarded)
	return true, nil
}

// DropoffCheck removes every rider whose destination is the current floor,
// highest index first.
func (e *Engine) DropoffCheck(ctx context.Context) (bool, error) {
	if err := e.mirror.Refresh(ctx); err != nil {
		return false, fmt.Errorf("dropoff at floor %d: %w", e.floor, err)
	}
	riders, err := e.mirror.Riders()
	if err != nil {
		return false, fmt.Errorf("dropoff at floor %d: %w", e.floor, err)
	}
	idx := matchIndices(riders, func(p protocol.Passenger) bool { return p.Destination == e.floor })
	if len(idx) == 0 {
		return false, nil
	}

	left := make([]protocol.Passenger, len(idx))
	for k := len(idx) - 1; k >= 0; k-- {
		if _, err := e.store.DeleteRiderAt(ctx, idx[k]); err != nil {
			return false, fmt.Errorf("dropoff at floor %d: delete rider %d: %w", e.floor, idx[k], err)
		}
		left[k] = riders[idx[k]]
	}
	if err := e.mirror.Refresh(ctx); err != nil {
		return false, fmt.Errorf("dropoff at floor %d: %w", e.floor, err)
	}

	e.logf("dropoff at floor %d: %v", e.floor, left)
	e.emit(protocol.EventDropoff, left)
	return true, nil
}

// DriveTo moves the car one floor at a time until it reaches target.
func (e *Engine) DriveTo(ctx context.Context, target int) error {
	if target < 0 {
		return fmt.Errorf("drive to floor %d: negative floor", target)
	}
	for e.floor != target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.stepToward(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) stepToward(ctx context.Context, target int) error {
	if target > e.floor {
		return e.MoveUp(ctx)
	}
	return e.MoveDown(ctx)
}

// ServeOneRequest drives to req's origin, then keeps moving until no riders
// remain. The target is always the destination of whoever is riders[0] after
// the latest refresh; riders for floors on the way are dropped off by the
// stop check without changing the target.
func (e *Engine) ServeOneRequest(ctx context.Context, req protocol.Passenger) error {
	before := e.traversed
	if err := e.DriveTo(ctx, req.Origin); err != nil {
		return err
	}
	if e.traversed == before {
		// Already at the origin, so no arrival ran the checks here.
		if err := e.arrive(ctx); err != nil {
			return err
		}
	}

	if err := e.mirror.Refresh(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		riders, err := e.mirror.Riders()
		if err != nil {
			return err
		}
		if len(riders) == 0 {
			return nil
		}
		target := riders[0].Destination
		if target == e.floor {
			// Only reachable if the store changed under us; clear it so the
			// loop keeps making progress.
			if _, err := e.DropoffCheck(ctx); err != nil {
				return err
			}
			continue
		}
		if err := e.stepToward(ctx, target); err != nil {
			return err
		}
		if err := e.mirror.Refresh(ctx); err != nil {
			return err
		}
	}
}

// Dispatch serves every request pending when it starts, then asks the lobby
// policy whether to return to floor 0. Requests registered during the run
// are only served if the car happens to pass their origin.
func (e *Engine) Dispatch(ctx context.Context) error {
	if err := e.mirror.Refresh(ctx); err != nil {
		return err
	}
	pending, err := e.mirror.Requests()
	if err != nil {
		return err
	}
	e.logf("dispatch: %d pending request(s) at floor %d", len(pending), e.floor)

	for _, req := range pending {
		if err := e.mirror.Refresh(ctx); err != nil {
			return err
		}
		snap, err := e.mirror.Snapshot()
		if err != nil {
			return err
		}
		if len(snap.Requests) == 0 && len(snap.Riders) == 0 {
			continue
		}
		if err := e.ServeOneRequest(ctx, req); err != nil {
			return fmt.Errorf("serve %s: %w", req, err)
		}
	}

	if e.policy.ShouldReturn(e.State()) {
		e.logf("returning to lobby from floor %d", e.floor)
		if err := e.DriveTo(ctx, 0); err != nil {
			return fmt.Errorf("return to lobby: %w", err)
		}
		e.emit(protocol.EventLobby, nil)
	}
	return nil
}

func matchIndices(seq []protocol.Passenger, match func(protocol.Passenger) bool) []int {
	var idx []int
	for i, p := range seq {
		if match(p) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (e *Engine) emit(kind string, passengers []protocol.Passenger) {
	if e.sink == nil {
		return
	}
	e.seq++
	e.sink.Emit(protocol.CarEvent{
		Seq:        e.seq,
		Kind:       kind,
		At:         e.now().UTC(),
		Car:        e.State(),
		Passengers: passengers,
	})
}

func (e *Engine) logf(format string, args ...any) {
	if e.log == nil {
		return
	}
	e.log.Printf(format, args...)
}
