package engine

import (
	"fmt"
	"strings"
	"time"

	"liftsim/internal/protocol"
)

// LobbyPolicy is asked once at the end of every dispatch run whether the car
// should drive back to floor 0.
type LobbyPolicy interface {
	ShouldReturn(car protocol.CarState) bool
}

// PolicyFunc adapts a plain function to LobbyPolicy.
type PolicyFunc func(car protocol.CarState) bool

func (f PolicyFunc) ShouldReturn(car protocol.CarState) bool { return f(car) }

var (
	Never  LobbyPolicy = PolicyFunc(func(protocol.CarState) bool { return false })
	Always LobbyPolicy = PolicyFunc(func(car protocol.CarState) bool { return car.Floor != 0 })
)

// MorningRush sends the car back to the lobby while the local hour is before
// Before, when most trips start on the ground floor.
type MorningRush struct {
	Before int
	Clock  func() time.Time
}

func (m MorningRush) ShouldReturn(car protocol.CarState) bool {
	if car.Floor == 0 {
		return false
	}
	now := time.Now
	if m.Clock != nil {
		now = m.Clock
	}
	return now().Hour() < m.Before
}

// ParsePolicy maps a configuration name to a policy.
func ParsePolicy(name string, before int) (LobbyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "never":
		return Never, nil
	case "always":
		return Always, nil
	case "morning":
		if before < 0 || before > 24 {
			return nil, fmt.Errorf("lobby policy morning: hour %d out of range 0..24", before)
		}
		return MorningRush{Before: before}, nil
	default:
		return nil, fmt.Errorf("unknown lobby policy %q", name)
	}
}
