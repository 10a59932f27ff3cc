package planmodel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/codec"
	"github.com/roach88/plancast/internal/dispatch"
	"github.com/roach88/plancast/internal/ir"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func tx(seq uint64, tag ir.TypeTag, scope string, payload any) ir.Transmission {
	data, _ := json.Marshal(payload)
	return ir.Transmission{
		ID:        uuid.New(),
		Seq:       seq,
		Timestamp: t0.Add(time.Duration(seq) * time.Second),
		Scope:     scope,
		Type:      tag,
		Payload:   data,
	}
}

func deliver(t *testing.T, c dispatch.Consumer, tr ir.Transmission) ir.Outcome {
	t.Helper()
	select {
	case o := <-c.Deliver(context.Background(), tr):
		return o
	case <-time.After(time.Second):
		t.Fatal("no outcome")
		return ir.Outcome{}
	}
}

func TestRegister(t *testing.T) {
	r := codec.NewDefaultRegistry()
	require.NoError(t, Register(r))

	info, ok := r.Lookup(TypePlanSet)
	require.True(t, ok)
	assert.Equal(t, []string{CapPlanWrite}, info.Requires)
	assert.Error(t, Register(r), "registering twice fails")
}

func TestScenario_SetDeleteUndo(t *testing.T) {
	m := New(nil)
	c := m.Consumer("plan-a")

	empty, err := m.Checksum("plan-a")
	require.NoError(t, err)

	o := deliver(t, c, tx(1, TypePlanSet, "plan-a", SetPayload{Key: "job-1", Value: "line-2"}))
	require.True(t, o.Success)
	afterSet := o.Checksum
	assert.NotEqual(t, empty, afterSet)

	o = deliver(t, c, tx(2, TypePlanDelete, "plan-a", DeletePayload{Key: "job-1"}))
	require.True(t, o.Success)
	assert.Equal(t, empty, o.Checksum, "digest depends only on content")

	o = deliver(t, c, tx(3, ir.TypeUndo, "plan-a", nil))
	require.True(t, o.Success)
	assert.Equal(t, afterSet, o.Checksum)
	assert.Equal(t, map[string]string{"job-1": "line-2"}, m.Entries("plan-a"))
}

func TestScenario_FailuresLeaveStateUntouched(t *testing.T) {
	m := New(nil)
	c := m.Consumer("plan-a")
	before, err := m.Checksum("plan-a")
	require.NoError(t, err)

	for _, tr := range []ir.Transmission{
		tx(1, TypePlanDelete, "plan-a", DeletePayload{Key: "missing"}),
		tx(2, ir.TypeUndo, "plan-a", nil),
		tx(3, ir.TypeLogin, "plan-a", ir.LoginPayload{User: "ada"}),
		tx(4, TypePlanSet, "plan-a", SetPayload{}),
	} {
		o := deliver(t, c, tr)
		assert.False(t, o.Success, tr.Type)
		assert.Error(t, o.Err)
	}
	after, err := m.Checksum("plan-a")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestScenario_ReplaceAndUndoStart(t *testing.T) {
	m := New(nil)
	c := m.Consumer("plan-a")

	deliver(t, c, tx(1, TypePlanSet, "plan-a", SetPayload{Key: "a", Value: "1"}))
	o := deliver(t, c, tx(2, ir.TypeScenarioReplace, "plan-a", ReplacePayload{Entries: map[string]string{"b": "2"}}))
	require.True(t, o.Success)
	assert.Equal(t, map[string]string{"b": "2"}, m.Entries("plan-a"))

	o = deliver(t, c, tx(3, ir.TypeUndoStart, "plan-a", nil))
	require.True(t, o.Success)
	assert.NotEqual(t, "", o.Checksum)

	deliver(t, c, tx(4, ir.TypeUndo, "plan-a", nil))
	assert.Equal(t, map[string]string{"a": "1"}, m.Entries("plan-a"))
}

func TestSystem_UsersAndReadOnly(t *testing.T) {
	m := New(nil)
	c := m.Consumer(ir.SystemScope)

	deliver(t, c, tx(1, ir.TypeLogin, "", ir.LoginPayload{User: "ada", Kind: "user"}))
	deliver(t, c, tx(2, ir.TypeLogin, "", ir.LoginPayload{User: "ada", Kind: "user"}))
	deliver(t, c, tx(3, ir.TypeLogoff, "", ir.LogoffPayload{User: "ada", Reason: "logoff"}))
	assert.Equal(t, map[string]int{"ada": 1}, m.Users())

	o := deliver(t, c, tx(4, ir.TypeStateSwitch, "", ir.StateSwitchPayload{ReadOnly: true}))
	require.True(t, o.Success)
	assert.True(t, m.ReadOnly())

	o = deliver(t, c, tx(5, TypePlanSet, "", SetPayload{Key: "a"}))
	assert.ErrorIs(t, o.Err, ErrUnsupported)
}

func TestSerialize_RoundTripPreservesChecksums(t *testing.T) {
	m := New(nil)
	a := m.Consumer("plan-a")
	sys := m.Consumer(ir.SystemScope)
	deliver(t, a, tx(1, TypePlanSet, "plan-a", SetPayload{Key: "k", Value: "v"}))
	deliver(t, a, tx(2, TypePlanSet, "plan-a", SetPayload{Key: "k", Value: "w"}))
	deliver(t, sys, tx(3, ir.TypeLogin, "", ir.LoginPayload{User: "ada"}))

	data, err := m.Serialize()
	require.NoError(t, err)

	restored := New(nil)
	require.NoError(t, restored.Deserialize(data))
	assert.Equal(t, []string{"plan-a"}, restored.Scopes())
	for _, scope := range []string{"plan-a", ir.SystemScope} {
		want, err := m.Checksum(scope)
		require.NoError(t, err)
		got, err := restored.Checksum(scope)
		require.NoError(t, err)
		assert.Equal(t, want, got, "scope %q", scope)
	}

	// History survives, so undo after recovery matches undo before it.
	o1 := deliver(t, a, tx(4, ir.TypeUndo, "plan-a", nil))
	o2 := deliver(t, restored.Consumer("plan-a"), tx(4, ir.TypeUndo, "plan-a", nil))
	assert.Equal(t, o1.Checksum, o2.Checksum)
}

func TestReloadScenario_ReturnsWatermark(t *testing.T) {
	m := New(nil)
	c := m.Consumer("plan-a")
	deliver(t, c, tx(7, TypePlanSet, "plan-a", SetPayload{Key: "k", Value: "v"}))

	data, err := m.Serialize()
	require.NoError(t, err)
	state, err := ScenarioState(data, "plan-a")
	require.NoError(t, err)
	require.NotNil(t, state)

	deliver(t, c, tx(8, TypePlanSet, "plan-a", SetPayload{Key: "k", Value: "changed"}))

	next, wm, err := m.ReloadScenario("plan-a", state)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), wm.Seq)
	assert.Equal(t, t0.Add(7*time.Second), wm.Timestamp)
	assert.Equal(t, map[string]string{"k": "v"}, m.Entries("plan-a"))

	o := deliver(t, next, tx(9, TypePlanDelete, "plan-a", DeletePayload{Key: "k"}))
	assert.True(t, o.Success)
	assert.Empty(t, m.Entries("plan-a"))
}
