package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Regenerate with:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"edit_restart", "read_only_gate"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestdata(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceJSON_Deterministic(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Type: "login", Instigator: "server", Checksum: "ab"},
		{Seq: 2, Type: "plan.set", Scope: "plan-a", Instigator: "ana"},
	}

	first, err := TraceJSON("fixed", result)
	require.NoError(t, err)
	second, err := TraceJSON("fixed", result)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t,
		`{"scenario_name":"fixed","trace":[{"checksum":"ab","instigator":"server","seq":1,"type":"login"},`+
			`{"instigator":"ana","scope":"plan-a","seq":2,"type":"plan.set"}]}`,
		string(first))
}
