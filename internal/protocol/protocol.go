package protocol

import (
	"errors"
	"fmt"
	"time"
)

const Version = "1.0"

// Passenger is one person travelling between two floors. It has no identity
// beyond its fields: two equal values are still two passengers.
//
// The JSON names are those the visualizer speaks: the origin floor is
// the floor the passenger is currently waiting on.
type Passenger struct {
	Name        string `json:"name"`
	Origin      int    `json:"currentFloor"`
	Destination int    `json:"dropOffFloor"`
}

func (p Passenger) Validate() error {
	if p.Name == "" {
		return errors.New("name is empty")
	}
	if p.Origin < 0 {
		return fmt.Errorf("currentFloor %d is negative", p.Origin)
	}
	if p.Destination < 0 {
		return fmt.Errorf("dropOffFloor %d is negative", p.Destination)
	}
	return nil
}

func (p Passenger) String() string {
	return fmt.Sprintf("%s(%d->%d)", p.Name, p.Origin, p.Destination)
}

// State is the full store snapshot served by GET /state.
type State struct {
	Requests []Passenger `json:"requests"`
	Riders   []Passenger `json:"riders"`
}

// CarState is the car position plus its two cumulative counters.
type CarState struct {
	Floor           int `json:"floor"`
	Stops           int `json:"stops"`
	FloorsTraversed int `json:"floorsTraversed"`
}

// Car event kinds.
const (
	EventMove    = "move"
	EventPickup  = "pickup"
	EventDropoff = "dropoff"
	EventStop    = "stop"
	EventLobby   = "lobby"
	EventReset   = "reset"
)

// CarEvent is one observable step of a dispatch run. Car is the state right
// after the step.
type CarEvent struct {
	Seq        uint64      `json:"seq"`
	Kind       string      `json:"kind"`
	At         time.Time   `json:"at"`
	Car        CarState    `json:"car"`
	Passengers []Passenger `json:"passengers,omitempty"`
}
