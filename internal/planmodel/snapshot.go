package planmodel

import (
	"encoding/json"
	"fmt"
)

// image is the serialized form of the whole model.
type image struct {
	Scenarios map[string]json.RawMessage `json:"scenarios"`
	System    *System                    `json:"system"`
}

// Serialize returns the state of every scope. Callers must make sure no
// delivery is in flight.
func (m *Model) Serialize() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	img := image{Scenarios: make(map[string]json.RawMessage, len(m.scenarios))}
	for id, sc := range m.scenarios {
		sc.mu.Lock()
		data, err := json.Marshal(sc.scenarioState)
		sc.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("serialize scenario %q: %w", id, err)
		}
		img.Scenarios[id] = data
	}

	m.system.mu.Lock()
	defer m.system.mu.Unlock()
	img.System = m.system
	data, err := json.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return data, nil
}

// Deserialize replaces every scope with the state in data. Consumers
// handed out before the call keep pointing at the old scenarios, so
// dispatchers must be reopened afterwards.
func (m *Model) Deserialize(data []byte) error {
	var img image
	if err := json.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("deserialize: %w", err)
	}

	scenarios := make(map[string]*Scenario, len(img.Scenarios))
	for id, raw := range img.Scenarios {
		sc := newScenario(id)
		if err := json.Unmarshal(raw, &sc.scenarioState); err != nil {
			return fmt.Errorf("deserialize scenario %q: %w", id, err)
		}
		sc.normalize()
		scenarios[id] = sc
	}
	system := newSystem()
	if img.System != nil {
		system.ReadOnly = img.System.ReadOnly
		system.LastSeq = img.System.LastSeq
		for u, n := range img.System.Users {
			system.Users[u] = n
		}
	}

	m.mu.Lock()
	m.scenarios = scenarios
	m.system = system
	m.mu.Unlock()
	return nil
}

// ScenarioState extracts the state of scope from serialized model data.
// Returns nil if the image holds no such scenario.
func ScenarioState(data []byte, scope string) (json.RawMessage, error) {
	var img image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("scenario state: %w", err)
	}
	return img.Scenarios[scope], nil
}
