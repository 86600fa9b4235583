package httpapi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"liftsim/internal/protocol"
	"liftsim/internal/sim/engine"
	"liftsim/internal/store"
)

var (
	// ErrCarBusy is returned when a run is requested while another one holds the car.
	ErrCarBusy = errors.New("car is busy")
	// ErrCarClosed is returned once the car has been shut down.
	ErrCarClosed = errors.New("car is shut down")
)

// Car hosts one engine behind the HTTP API. Runs are serialised with TryLock,
// so a second caller is refused instead of queued. The last car state is
// tracked from the engine's own events and can be read while a run is going.
type Car struct {
	mu     sync.Mutex
	eng    *engine.Engine
	closed bool // guarded by mu

	stateMu sync.Mutex
	state   protocol.CarState

	runs atomic.Uint64
}

func NewCar(st store.Store, opts engine.Options) *Car {
	c := &Car{}
	opts.Sink = engine.Sinks{carTracker{c}, opts.Sink}
	c.eng = engine.New(st, opts)
	return c
}

type carTracker struct{ c *Car }

func (t carTracker) Emit(ev protocol.CarEvent) {
	t.c.stateMu.Lock()
	t.c.state = ev.Car
	t.c.stateMu.Unlock()
}

func (c *Car) State() protocol.CarState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Runs counts completed and failed dispatch runs.
func (c *Car) Runs() uint64 { return c.runs.Load() }

func (c *Car) Dispatch(ctx context.Context) (protocol.CarState, error) {
	if !c.mu.TryLock() {
		return c.State(), ErrCarBusy
	}
	defer c.mu.Unlock()
	if c.closed {
		return c.State(), ErrCarClosed
	}
	defer c.runs.Add(1)
	err := c.eng.Dispatch(ctx)
	c.sync()
	return c.State(), err
}

func (c *Car) Reset(ctx context.Context) (protocol.CarState, error) {
	if !c.mu.TryLock() {
		return c.State(), ErrCarBusy
	}
	defer c.mu.Unlock()
	if c.closed {
		return c.State(), ErrCarClosed
	}
	err := c.eng.ResetAll(ctx)
	c.sync()
	return c.State(), err
}

// Close waits for a run in progress to finish and refuses every later one.
// After Close returns the car no longer touches its store or sinks.
func (c *Car) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// sync copies the engine state, which is safe while mu is held.
func (c *Car) sync() {
	st := c.eng.State()
	c.stateMu.Lock()
	c.state = st
	c.stateMu.Unlock()
}
