// Package codec turns transmissions into self-describing records and back.
//
// Every record is a JSON envelope carrying the numeric uniqueId of its
// type, the type's wire version and the transmission body. Decoding looks
// the uniqueId up in a Registry, the class-factory table built at startup.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/plancast/internal/ir"
)

var (
	// ErrUnknownType is returned when a record names an unregistered uniqueId or tag.
	ErrUnknownType = errors.New("unknown transmission type")

	// ErrVersionTooNew is returned when a record was written by a newer type version.
	ErrVersionTooNew = errors.New("transmission version newer than registered")

	// ErrMalformed is returned when a record cannot be read as a transmission.
	ErrMalformed = errors.New("malformed transmission record")
)

// CapScenarioEdit is required by the core types that rewrite scenario state.
const CapScenarioEdit = "scenario.edit"

// TypeInfo describes one registered transmission type.
type TypeInfo struct {
	UniqueID   int
	Tag        ir.TypeTag
	Version    int
	Requires   []string
	Recordable bool
}

type envelope struct {
	UID     int             `json:"uid"`
	Version int             `json:"v"`
	Tx      json.RawMessage `json:"tx"`
}

// Registry maps uniqueIds and tags to type descriptions.
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[int]TypeInfo
	byTag map[ir.TypeTag]TypeInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[int]TypeInfo),
		byTag: make(map[ir.TypeTag]TypeInfo),
	}
}

// NewDefaultRegistry returns a registry holding the core types under the
// reserved uniqueIds 1-7.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, info := range []TypeInfo{
		{UniqueID: 1, Tag: ir.TypeLogin, Version: 1, Recordable: true},
		{UniqueID: 2, Tag: ir.TypeLogoff, Version: 1, Recordable: true},
		{UniqueID: 3, Tag: ir.TypeStateSwitch, Version: 1, Recordable: true},
		{UniqueID: 4, Tag: ir.TypeUndoStart, Version: 1, Requires: []string{CapScenarioEdit}, Recordable: true},
		{UniqueID: 5, Tag: ir.TypeUndo, Version: 1, Requires: []string{CapScenarioEdit}, Recordable: true},
		{UniqueID: 6, Tag: ir.TypeScenarioReplace, Version: 1, Requires: []string{CapScenarioEdit}, Recordable: true},
		{UniqueID: 7, Tag: ir.TypePacket, Version: 1, Recordable: true},
	} {
		if err := r.Register(info); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a type. UniqueIDs and tags must both be unused.
func (r *Registry) Register(info TypeInfo) error {
	if info.UniqueID <= 0 {
		return fmt.Errorf("register %q: uniqueId must be positive, got %d", info.Tag, info.UniqueID)
	}
	if info.Tag == "" {
		return fmt.Errorf("register uniqueId %d: empty tag", info.UniqueID)
	}
	if info.Version <= 0 {
		info.Version = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[info.UniqueID]; ok {
		return fmt.Errorf("register %q: uniqueId %d already used by %q", info.Tag, info.UniqueID, existing.Tag)
	}
	if _, ok := r.byTag[info.Tag]; ok {
		return fmt.Errorf("register %q: tag already registered", info.Tag)
	}
	r.byID[info.UniqueID] = info
	r.byTag[info.Tag] = info
	return nil
}

// Lookup returns the registration for tag.
func (r *Registry) Lookup(tag ir.TypeTag) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byTag[tag]
	return info, ok
}

// Types returns all registrations ordered by uniqueId.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Encode writes t as a self-describing record.
func (r *Registry) Encode(t ir.Transmission) ([]byte, error) {
	info, ok := r.Lookup(t.Type)
	if !ok {
		return nil, fmt.Errorf("encode %q: %w", t.Type, ErrUnknownType)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", t.Type, err)
	}
	return json.Marshal(envelope{UID: info.UniqueID, Version: info.Version, Tx: body})
}

// Decode reads a self-describing record. The transmission's type and
// recordability come from the registry, never from the record body.
func (r *Registry) Decode(data []byte) (ir.Transmission, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ir.Transmission{}, fmt.Errorf("decode envelope: %w: %w", ErrMalformed, err)
	}

	r.mu.RLock()
	info, ok := r.byID[env.UID]
	r.mu.RUnlock()
	if !ok {
		return ir.Transmission{}, fmt.Errorf("decode uniqueId %d: %w", env.UID, ErrUnknownType)
	}
	if env.Version > info.Version {
		return ir.Transmission{}, fmt.Errorf("decode %q v%d (have v%d): %w", info.Tag, env.Version, info.Version, ErrVersionTooNew)
	}

	var t ir.Transmission
	if len(env.Tx) > 0 {
		if err := json.Unmarshal(env.Tx, &t); err != nil {
			return ir.Transmission{}, fmt.Errorf("decode %q body: %w: %w", info.Tag, ErrMalformed, err)
		}
	}
	if t.Type != "" && t.Type != info.Tag {
		return ir.Transmission{}, fmt.Errorf("decode uniqueId %d: body type %q does not match %q: %w", env.UID, t.Type, info.Tag, ErrMalformed)
	}
	t.Type = info.Tag
	t.Recordable = info.Recordable

	for i := range t.Parts {
		partInfo, ok := r.Lookup(t.Parts[i].Type)
		if !ok {
			return ir.Transmission{}, fmt.Errorf("decode packet part %d %q: %w", i, t.Parts[i].Type, ErrUnknownType)
		}
		t.Parts[i].Recordable = partInfo.Recordable
	}

	if err := t.Validate(); err != nil {
		return ir.Transmission{}, fmt.Errorf("decode: %w: %w", ErrMalformed, err)
	}
	return t, nil
}

// RequiredCapabilities returns the sorted union of capabilities needed to
// submit t, including those of every packet part.
func (r *Registry) RequiredCapabilities(t ir.Transmission) ([]string, error) {
	set := make(map[string]bool)
	units := []ir.Transmission{t}
	if t.IsPacket() {
		units = append(units, t.Parts...)
	}
	for _, u := range units {
		info, ok := r.Lookup(u.Type)
		if !ok {
			return nil, fmt.Errorf("capabilities for %q: %w", u.Type, ErrUnknownType)
		}
		for _, c := range info.Requires {
			set[c] = true
		}
	}
	caps := make([]string, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps, nil
}
