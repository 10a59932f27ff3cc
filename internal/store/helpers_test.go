package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/ir"
	"github.com/roach88/plancast/internal/testutil"
)

func testCodec(t *testing.T) *codec.Registry {
	t.Helper()
	r := codec.NewDefaultRegistry()
	if err := r.Register(codec.TypeInfo{UniqueID: 100, Tag: "plan.set", Version: 1, Recordable: true}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return r
}

// createTestStore opens a store in a fresh temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	clock := testutil.NewSteppingClock(testutil.Epoch, time.Second)
	s, err := Open(t.TempDir(), testCodec(t), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestTransmission(seq uint64, scope string) ir.Transmission {
	return ir.Transmission{
		Seq:        seq,
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(seq >> 8), byte(seq)}),
		Instigator: "alice",
		Timestamp:  time.Date(2026, 5, 1, 8, 0, 0, int(seq), time.UTC),
		Scope:      scope,
		Type:       "plan.set",
		Origin:     ir.OriginClient,
		Recordable: true,
		Payload:    json.RawMessage(`{"key":"k"}`),
	}
}
