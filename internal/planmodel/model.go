// Package planmodel is a minimal deterministic planning model.
//
// It stands in for the real scheduling model: every scenario is an ordered
// key/value plan with an undo history, and the system scope tracks who is
// logged in and whether the server is read-only. It implements the
// collaborator contract the broadcast core needs: apply a transmission,
// report a checksum of the resulting state, and serialize or restore all
// state for snapshots.
package planmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
)

// Domain transmission types.
const (
	TypePlanSet    ir.TypeTag = "plan.set"
	TypePlanDelete ir.TypeTag = "plan.delete"
)

// CapPlanWrite is required to change plan entries.
const CapPlanWrite = "plan.write"

// ErrUnsupported is reported for transmissions the model cannot apply.
var ErrUnsupported = errors.New("unsupported transmission")

// Register adds the domain types to r.
func Register(r *codec.Registry) error {
	for _, info := range []codec.TypeInfo{
		{UniqueID: 100, Tag: TypePlanSet, Version: 1, Requires: []string{CapPlanWrite}, Recordable: true},
		{UniqueID: 101, Tag: TypePlanDelete, Version: 1, Requires: []string{CapPlanWrite}, Recordable: true},
	} {
		if err := r.Register(info); err != nil {
			return fmt.Errorf("planmodel: %w", err)
		}
	}
	return nil
}

// SetPayload is the payload of plan.set.
type SetPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DeletePayload is the payload of plan.delete.
type DeletePayload struct {
	Key string `json:"key"`
}

// ReplacePayload is the payload of scenario.replace.
type ReplacePayload struct {
	Entries map[string]string `json:"entries"`
}

// Model holds every scenario and the system state.
// Thread-safety: safe for concurrent use; each scope is applied by at most
// one dispatcher at a time.
type Model struct {
	logger *slog.Logger

	mu        sync.Mutex
	scenarios map[string]*Scenario
	system    *System
}

// New returns an empty model.
func New(logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		logger:    logger,
		scenarios: make(map[string]*Scenario),
		system:    newSystem(),
	}
}

// Consumer returns the dispatch consumer of scope, creating an empty
// scenario if needed. The system scope is handled by the system state.
func (m *Model) Consumer(scope string) dispatch.Consumer {
	if scope == ir.SystemScope {
		return dispatch.ConsumerFunc(func(_ context.Context, t ir.Transmission) <-chan ir.Outcome {
			return done(m.applySystem(t))
		})
	}
	sc := m.scenario(scope)
	return dispatch.ConsumerFunc(func(_ context.Context, t ir.Transmission) <-chan ir.Outcome {
		return done(m.applyScenario(sc, t))
	})
}

// ReloadScenario replaces scope with state (as returned by ScenarioState)
// and returns the consumer bound to the new scenario together with the
// position it reflects. The previous scenario object stops receiving
// transmissions once its dispatcher is swapped out.
func (m *Model) ReloadScenario(scope string, state json.RawMessage) (dispatch.Consumer, dispatch.Watermark, error) {
	sc := newScenario(scope)
	if len(state) > 0 {
		if err := json.Unmarshal(state, &sc.scenarioState); err != nil {
			return nil, dispatch.Watermark{}, fmt.Errorf("reload %q: %w", scope, err)
		}
		sc.normalize()
	}
	m.mu.Lock()
	m.scenarios[scope] = sc
	m.mu.Unlock()

	wm := dispatch.Watermark{Timestamp: sc.LastTimestamp, Seq: sc.LastSeq}
	m.logger.Info("scenario reloaded", "scope_id", scope, "last_seq", sc.LastSeq, "entries", len(sc.Entries))
	return dispatch.ConsumerFunc(func(_ context.Context, t ir.Transmission) <-chan ir.Outcome {
		return done(m.applyScenario(sc, t))
	}), wm, nil
}

// Scopes returns the scenario ids, sorted.
func (m *Model) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.scenarios))
	for id := range m.scenarios {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of the plan of scope.
func (m *Model) Entries(scope string) map[string]string {
	m.mu.Lock()
	sc, ok := m.scenarios[scope]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make(map[string]string, len(sc.Entries))
	for k, v := range sc.Entries {
		out[k] = v
	}
	return out
}

// Checksum returns the current digest of scope.
func (m *Model) Checksum(scope string) (string, error) {
	if scope == ir.SystemScope {
		s := m.sys()
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.digest()
	}
	m.mu.Lock()
	sc, ok := m.scenarios[scope]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("checksum: unknown scenario %q", scope)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.digest()
}

// Users returns the logged-in users with their session counts.
func (m *Model) Users() map[string]int {
	s := m.sys()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.Users))
	for u, n := range s.Users {
		out[u] = n
	}
	return out
}

// ReadOnly reports the read-only flag as last applied.
func (m *Model) ReadOnly() bool {
	s := m.sys()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadOnly
}

func (m *Model) sys() *System {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system
}

func (m *Model) scenario(scope string) *Scenario {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[scope]
	if !ok {
		sc = newScenario(scope)
		m.scenarios[scope] = sc
	}
	return sc
}

func (m *Model) applyScenario(sc *Scenario, t ir.Transmission) ir.Outcome {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.apply(t); err != nil {
		m.logger.Warn("transmission not applied", "scope_id", sc.id, "seq", t.Seq, "type", t.Type, "error", err)
		return ir.Outcome{Err: err}
	}
	sc.LastSeq = t.Seq
	sc.LastTimestamp = t.Timestamp
	sum, err := sc.digest()
	if err != nil {
		return ir.Outcome{Err: err}
	}
	return ir.Outcome{Success: true, Checksum: sum}
}

func (m *Model) applySystem(t ir.Transmission) ir.Outcome {
	s := m.sys()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.apply(t); err != nil {
		m.logger.Warn("transmission not applied", "scope_id", ir.SystemScope, "seq", t.Seq, "type", t.Type, "error", err)
		return ir.Outcome{Err: err}
	}
	s.LastSeq = t.Seq
	sum, err := s.digest()
	if err != nil {
		return ir.Outcome{Err: err}
	}
	return ir.Outcome{Success: true, Checksum: sum}
}

func done(o ir.Outcome) <-chan ir.Outcome {
	ch := make(chan ir.Outcome, 1)
	ch <- o
	return ch
}

// scenarioState is the serialized form of a scenario.
type scenarioState struct {
	Entries       map[string]string   `json:"entries"`
	History       []map[string]string `json:"history"`
	UndoStarts    int                 `json:"undo_starts"`
	LastSeq       uint64              `json:"last_seq"`
	LastTimestamp time.Time           `json:"last_timestamp"`
}

// Scenario is one independent plan.
type Scenario struct {
	id string

	mu sync.Mutex
	scenarioState
}

func newScenario(id string) *Scenario {
	return &Scenario{id: id, scenarioState: scenarioState{Entries: map[string]string{}}}
}

func (sc *Scenario) normalize() {
	if sc.Entries == nil {
		sc.Entries = map[string]string{}
	}
}

func (sc *Scenario) apply(t ir.Transmission) error {
	switch t.Type {
	case TypePlanSet:
		var p SetPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("plan.set: %w", err)
		}
		if p.Key == "" {
			return errors.New("plan.set: empty key")
		}
		sc.remember()
		sc.Entries[p.Key] = p.Value
	case TypePlanDelete:
		var p DeletePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("plan.delete: %w", err)
		}
		if _, ok := sc.Entries[p.Key]; !ok {
			return fmt.Errorf("plan.delete: no entry %q", p.Key)
		}
		sc.remember()
		delete(sc.Entries, p.Key)
	case ir.TypeScenarioReplace:
		var p ReplacePayload
		if len(t.Payload) > 0 {
			if err := json.Unmarshal(t.Payload, &p); err != nil {
				return fmt.Errorf("scenario.replace: %w", err)
			}
		}
		sc.remember()
		sc.Entries = map[string]string{}
		for k, v := range p.Entries {
			sc.Entries[k] = v
		}
	case ir.TypeUndoStart:
		sc.UndoStarts++
	case ir.TypeUndo:
		if len(sc.History) == 0 {
			return errors.New("undo: nothing to undo")
		}
		last := len(sc.History) - 1
		sc.Entries = sc.History[last]
		sc.History = sc.History[:last]
		sc.normalize()
	default:
		return fmt.Errorf("%s: %w", t.Type, ErrUnsupported)
	}
	return nil
}

// remember pushes the current entries onto the undo history.
func (sc *Scenario) remember() {
	prev := make(map[string]string, len(sc.Entries))
	for k, v := range sc.Entries {
		prev[k] = v
	}
	sc.History = append(sc.History, prev)
}

func (sc *Scenario) digest() (string, error) {
	data, err := json.Marshal(struct {
		Entries    map[string]string `json:"entries"`
		UndoStarts int               `json:"undo_starts"`
	}{sc.Entries, sc.UndoStarts})
	if err != nil {
		return "", err
	}
	return ir.StateDigest(sc.id, data)
}

// System is the state of the system scope.
type System struct {
	mu       sync.Mutex
	Users    map[string]int `json:"users"`
	ReadOnly bool           `json:"read_only"`
	LastSeq  uint64         `json:"last_seq"`
}

func newSystem() *System {
	return &System{Users: map[string]int{}}
}

func (s *System) apply(t ir.Transmission) error {
	switch t.Type {
	case ir.TypeLogin:
		var p ir.LoginPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		s.Users[p.User]++
	case ir.TypeLogoff:
		var p ir.LogoffPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("logoff: %w", err)
		}
		if s.Users[p.User] <= 1 {
			delete(s.Users, p.User)
		} else {
			s.Users[p.User]--
		}
	case ir.TypeStateSwitch:
		var p ir.StateSwitchPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("state.switch: %w", err)
		}
		s.ReadOnly = p.ReadOnly
	default:
		return fmt.Errorf("%s on system scope: %w", t.Type, ErrUnsupported)
	}
	return nil
}

func (s *System) digest() (string, error) {
	data, err := json.Marshal(struct {
		Users    map[string]int `json:"users"`
		ReadOnly bool           `json:"read_only"`
	}{s.Users, s.ReadOnly})
	if err != nil {
		return "", err
	}
	return ir.StateDigest(ir.SystemScope, data)
}
