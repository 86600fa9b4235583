package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"liftsim/internal/protocol"
)

// Scenario is a list of passengers to register before a dispatch run.
type Scenario struct {
	Passengers []ScenarioPassenger `yaml:"passengers"`
}

type ScenarioPassenger struct {
	Name         string `yaml:"name"`
	CurrentFloor int    `yaml:"currentFloor"`
	DropOffFloor int    `yaml:"dropOffFloor"`
}

// LoadScenario reads a scenario file and checks every floor against b.
func LoadScenario(path string, b BuildingConfig) ([]protocol.Passenger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]protocol.Passenger, 0, len(sc.Passengers))
	for i, sp := range sc.Passengers {
		p := protocol.Passenger{Name: sp.Name, Origin: sp.CurrentFloor, Destination: sp.DropOffFloor}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: passengers[%d]: %w", path, i, err)
		}
		if err := b.CheckFloor(p.Origin); err != nil {
			return nil, fmt.Errorf("%s: passengers[%d]: currentFloor: %w", path, i, err)
		}
		if err := b.CheckFloor(p.Destination); err != nil {
			return nil, fmt.Errorf("%s: passengers[%d]: dropOffFloor: %w", path, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
