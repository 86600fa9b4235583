package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/passenger.schema.json
var passengerSchemaJSON string

var (
	passengerSchemaOnce sync.Once
	passengerSchema     *jsonschema.Schema
	passengerSchemaErr  error
)

func compiledPassengerSchema() (*jsonschema.Schema, error) {
	passengerSchemaOnce.Do(func() {
		passengerSchema, passengerSchemaErr = jsonschema.CompileString("passenger.schema.json", passengerSchemaJSON)
	})
	return passengerSchema, passengerSchemaErr
}

// DecodePassenger validates raw against the passenger schema and decodes it.
// Unknown fields are accepted and dropped.
func DecodePassenger(raw []byte) (Passenger, error) {
	var p Passenger
	s, err := compiledPassengerSchema()
	if err != nil {
		return p, fmt.Errorf("passenger schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return p, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return p, err
	}
	var w struct {
		Name         string      `json:"name"`
		CurrentFloor json.Number `json:"currentFloor"`
		DropOffFloor json.Number `json:"dropOffFloor"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return p, fmt.Errorf("decode: %w", err)
	}
	p.Name = w.Name
	if p.Origin, err = floorNumber(w.CurrentFloor); err != nil {
		return p, fmt.Errorf("currentFloor: %w", err)
	}
	if p.Destination, err = floorNumber(w.DropOffFloor); err != nil {
		return p, fmt.Errorf("dropOffFloor: %w", err)
	}
	return p, p.Validate()
}

// maxFloor keeps every accepted floor exactly representable as a float64.
const maxFloor = 1 << 53

// floorNumber accepts any integral JSON number, so 3, 3.0 and 3e0 are the
// same floor.
func floorNumber(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		if i < 0 || i > maxFloor {
			return 0, fmt.Errorf("%s out of range", n)
		}
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%s is not a finite number", n)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s is not an integer", n)
	}
	if f < 0 || f > maxFloor {
		return 0, fmt.Errorf("%s out of range", n)
	}
	return int(f), nil
}
