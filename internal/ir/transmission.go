package ir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeTag names the kind of a transmission. Core tags are declared here;
// domain tags are registered with the codec at startup.
type TypeTag string

// Core transmission types.
const (
	TypeLogin           TypeTag = "login"
	TypeLogoff          TypeTag = "logoff"
	TypeStateSwitch     TypeTag = "state.switch"
	TypeUndoStart       TypeTag = "undo.start"
	TypeUndo            TypeTag = "undo"
	TypeScenarioReplace TypeTag = "scenario.replace"
	TypePacket          TypeTag = "packet"
)

// Origin records who produced a transmission.
type Origin string

const (
	// OriginClient marks transmissions submitted through a session.
	OriginClient Origin = "client"
	// OriginServer marks transmissions the server issued itself
	// (logins, evictions, read-only switches).
	OriginServer Origin = "server"
	// OriginUndo marks transmissions produced as the result of an undo.
	OriginUndo Origin = "undo"
)

// SystemScope is the scope id of transmissions not bound to a scenario.
const SystemScope = ""

// ServerInstigator is the instigator id used for server-issued transmissions.
const ServerInstigator = "server"

// Transmission is one self-describing state-changing command.
//
// Seq is zero until the sequencer accepts the transmission. A packet
// (Type == TypePacket) carries its sub-transmissions in Parts; each part
// receives its own consecutive sequence number and the packet takes the
// number of its first part.
type Transmission struct {
	Seq        uint64          `json:"seq"`
	ID         uuid.UUID       `json:"id"`
	Instigator string          `json:"instigator"`
	Timestamp  time.Time       `json:"timestamp"`
	Scope      string          `json:"scope,omitempty"`
	Type       TypeTag         `json:"type"`
	Origin     Origin          `json:"origin"`
	Recordable bool            `json:"recordable"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Parts      []Transmission  `json:"parts,omitempty"`
}

// NewTransmissionID returns a time-ordered UUIDv7.
func NewTransmissionID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// IsPacket reports whether t bundles sub-transmissions.
func (t Transmission) IsPacket() bool {
	return t.Type == TypePacket
}

// Flatten returns the deliverable units of t: the parts of a packet, or t itself.
func (t Transmission) Flatten() []Transmission {
	if t.IsPacket() {
		return t.Parts
	}
	return []Transmission{t}
}

// Scopes returns the distinct scopes t is delivered to, in first-seen order.
func (t Transmission) Scopes() []string {
	var scopes []string
	seen := make(map[string]bool)
	for _, part := range t.Flatten() {
		if !seen[part.Scope] {
			seen[part.Scope] = true
			scopes = append(scopes, part.Scope)
		}
	}
	return scopes
}

// LastSeq returns the highest sequence number held by t.
func (t Transmission) LastSeq() uint64 {
	if t.IsPacket() && len(t.Parts) > 0 {
		return t.Parts[len(t.Parts)-1].Seq
	}
	return t.Seq
}

// Validate checks structural invariants that do not depend on registry state.
func (t Transmission) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("transmission %s: empty type", t.ID)
	}
	if !t.IsPacket() {
		if len(t.Parts) > 0 {
			return fmt.Errorf("transmission %s: parts on non-packet type %q", t.ID, t.Type)
		}
		return nil
	}
	if len(t.Parts) == 0 {
		return fmt.Errorf("packet %s: no sub-transmissions", t.ID)
	}
	for i, part := range t.Parts {
		if part.IsPacket() {
			return fmt.Errorf("packet %s: part %d is a nested packet", t.ID, i)
		}
		if part.Type == "" {
			return fmt.Errorf("packet %s: part %d has empty type", t.ID, i)
		}
	}
	return nil
}

// Stamp assigns sequence numbers from next and propagates the packet's
// identity fields to its parts. Parts without an id get one derived from
// the packet id so replays see identical ids.
func (t *Transmission) Stamp(next func() uint64, at time.Time) {
	t.Timestamp = at
	if !t.IsPacket() {
		t.Seq = next()
		return
	}
	for i := range t.Parts {
		part := &t.Parts[i]
		part.Seq = next()
		part.Timestamp = at
		part.Instigator = t.Instigator
		part.Origin = t.Origin
		if part.ID == uuid.Nil {
			part.ID = uuid.NewSHA1(t.ID, []byte(fmt.Sprintf("part-%d", i)))
		}
	}
	t.Seq = t.Parts[0].Seq
}

// Clone returns a deep copy of t.
func (t Transmission) Clone() Transmission {
	c := t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Parts != nil {
		c.Parts = make([]Transmission, len(t.Parts))
		for i, part := range t.Parts {
			c.Parts[i] = part.Clone()
		}
	}
	return c
}

// Outcome is what the domain collaborator reports for one delivery.
type Outcome struct {
	Scope    string
	Success  bool
	Checksum string
	Err      error
}

// ChecksumRecord is the state digest of a scope after one transmission.
type ChecksumRecord struct {
	TransmissionID uuid.UUID `json:"transmission_id"`
	Scope          string    `json:"scope"`
	Seq            uint64    `json:"seq"`
	Digest         string    `json:"digest"`
	ComputedAt     time.Time `json:"computed_at"`
}
