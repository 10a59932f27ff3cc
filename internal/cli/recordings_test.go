package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingsList(t *testing.T) {
	dir := seedWorkDir(t, "edit_restart")

	out, err := execute(t, "recordings", "list", "--work-dir", dir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string             `json:"status"`
		Data   []RecordingDirInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, uint64(1), resp.Data[0].FirstSeq)
	assert.Equal(t, uint64(13), resp.Data[1].LastSeq)
	assert.Equal(t, 13, resp.Data[0].Recordings+resp.Data[1].Recordings)
	assert.GreaterOrEqual(t, resp.Data[0].Backups, 1)

	text, err := execute(t, "recordings", "list", "--work-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, text, "recordings=")
}

func TestRecordingsListEmpty(t *testing.T) {
	out, err := execute(t, "recordings", "list", "--work-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No recording directories.")
}

func TestRecordingsPruneKeepsUnsnapshotted(t *testing.T) {
	dir := seedWorkDir(t, "edit_restart")

	// The second directory holds recordings newer than the last snapshot.
	out, err := execute(t, "recordings", "prune", "--work-dir", dir, "--max", "1", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			Removed []string `json:"removed"`
			Max     int      `json:"max"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Max)
	require.Len(t, resp.Data.Removed, 1)

	left, err := os.ReadDir(filepath.Join(dir, "recordings"))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.NotEqual(t, resp.Data.Removed[0], left[0].Name())
}

func TestRecordingsReindex(t *testing.T) {
	dir := seedWorkDir(t, "read_only_gate")

	out, err := execute(t, "recordings", "reindex", "--work-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "7 recording(s) indexed")
}
