package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plancast/internal/store"
)

func TestServeShutsDownWithFinalSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--work-dir", dir, "--addr", "127.0.0.1:0", "--scope", "plan-a"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	// The startup snapshot is written once recovery finished.
	require.Eventually(t, func() bool {
		return snapshotReadable(filepath.Join(dir, "scenarios.dat"))
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	snap, err := store.ReadSnapshotFile(filepath.Join(dir, "scenarios.dat"))
	require.NoError(t, err)
	assert.Contains(t, string(snap.Data), "plan-a")
}

func snapshotReadable(path string) bool {
	_, err := store.ReadSnapshotFile(path)
	return err == nil
}
