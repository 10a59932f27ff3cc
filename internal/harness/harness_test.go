package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return scenario
}

func outcomes(r *Result) []string {
	out := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Outcome
	}
	return out
}

func TestRun_EditRestart(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "edit_restart"), t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, []string{
		OutcomeApplied, OutcomeApplied, OutcomeFailed, "", OutcomeDropped,
		"", "", "", OutcomeApplied, OutcomeApplied,
	}, outcomes(result))
	require.Len(t, result.Trace, 13)

	for i, ev := range result.Trace {
		assert.Equal(t, uint64(i+1), ev.Seq, "trace is gapless across the restart")
	}
	assert.Empty(t, result.Trace[4].Checksum, "failed delete has no checksum")
	assert.Equal(t, "logoff", result.Trace[7].Type)
	assert.Equal(t, "server", result.Trace[7].Instigator)
}

func TestRun_ReadOnlyGate(t *testing.T) {
	result, err := Run(context.Background(), loadTestdata(t, "read_only_gate"), t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, 2, result.Dropped())
	assert.Equal(t, OutcomeRejected, result.Steps[5].Outcome)
	require.Len(t, result.Trace, 7)
	assert.Equal(t, "plan.set", result.Trace[6].Type)
	assert.Equal(t, "importer", result.Trace[6].Instigator)
}

func TestRun_ReportsFailedExpectation(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expect",
		Description: "delete of a missing key is expected to apply",
		Scopes:      []string{"plan-a"},
		Sessions:    []SessionDecl{{Name: "ana", User: "ana"}},
		Steps: []Step{{
			Submit: &SubmitStep{
				Session: "ana",
				Type:    "plan.delete",
				Scope:   "plan-a",
				Payload: map[string]any{"key": "missing"},
			},
			Expect: OutcomeApplied,
		}},
		Assertions: []Assertion{{Type: AssertDropped, Count: 0}},
	}

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected applied, got failed")
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	readOnly := true
	scenario := &Scenario{
		Name:        "wrong_assertions",
		Description: "assertions that do not hold",
		Scopes:      []string{"plan-a"},
		Sessions:    []SessionDecl{{Name: "ana", User: "ana"}},
		Steps: []Step{
			{Submit: &SubmitStep{
				Session: "ana",
				Type:    "plan.set",
				Scope:   "plan-a",
				Payload: map[string]any{"key": "a", "value": "1"},
			}},
			{ReadOnly: &readOnly},
		},
		Assertions: []Assertion{
			{Type: AssertDropped, Count: 3},
			{Type: AssertSeqUnchanged, Step: 0},
			{Type: AssertFinalEntries, Scope: "plan-a", Entries: map[string]string{"a": "2"}},
			{Type: AssertMailboxContains, Session: "ana", Types: []string{"plan.delete"}},
		},
	}

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "3 dropped submissions")
	assert.Contains(t, result.Errors[1], "last seq moved")
	assert.Contains(t, result.Errors[2], "scope plan-a entries")
	assert.Contains(t, result.Errors[3], "received [")
}

func TestRun_PayloadRejectedByCodec(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_type",
		Description: "a type the codec does not know",
		Scopes:      []string{"plan-a"},
		Sessions:    []SessionDecl{{Name: "ana", User: "ana"}},
		Steps: []Step{{
			Submit: &SubmitStep{Session: "ana", Type: "plan.rename", Scope: "plan-a"},
			Expect: OutcomeRejected,
		}},
		Assertions: []Assertion{{Type: AssertSeqUnchanged, Step: 0}},
	}

	result, err := Run(context.Background(), scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
