package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/plancast/internal/ir"
)

const (
	snapshotName = "scenarios.dat"
	backupSuffix = "." + snapshotName
)

// Snapshot is the on-disk header wrapping the serialized state of every scope.
type Snapshot struct {
	Version   int             `json:"version"`
	LastSeq   uint64          `json:"last_seq"`
	CreatedAt time.Time       `json:"created_at"`
	Digest    string          `json:"digest"`
	Data      json.RawMessage `json:"data"`
}

// Backup is one backup snapshot file inside a recording directory.
type Backup struct {
	Seq   uint64
	Stamp string
	Path  string
}

// WriteSnapshot writes snap as the root scenarios.dat and, when a recording
// is active, as a backup named after snap.LastSeq in the active directory.
// Returns the backup path ("" when no recording is active).
func (s *Store) WriteSnapshot(snap Snapshot) (string, error) {
	snap.Version = ir.SnapshotVersion
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now().UTC()
	}
	// encoding/json compacts raw messages, so digest the compact form.
	var compact bytes.Buffer
	if len(snap.Data) == 0 {
		compact.WriteString("null")
	} else if err := json.Compact(&compact, snap.Data); err != nil {
		return "", fmt.Errorf("write snapshot: data: %w", err)
	}
	snap.Data = compact.Bytes()
	snap.Digest = ir.SnapshotDigest(snap.Data)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	data := buf.Bytes()
	if err := writeFileAtomic(filepath.Join(s.root, snapshotName), data); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	active := s.ActiveDir()
	if active == "" {
		return "", nil
	}
	name := fmt.Sprintf("%010d._%s%s", snap.LastSeq, snap.CreatedAt.UTC().Format(dirTimeLayout), backupSuffix)
	path := filepath.Join(active, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	s.logger.Info("snapshot written", "last_seq", snap.LastSeq, "backup", name)
	return path, nil
}

// LoadSnapshot reads the root scenarios.dat. Returns ErrNoSnapshot if absent.
func (s *Store) LoadSnapshot() (Snapshot, error) {
	return ReadSnapshotFile(filepath.Join(s.root, snapshotName))
}

// ReadSnapshotFile reads and verifies a snapshot or backup file.
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", filepath.Base(path), err)
	}
	if snap.Version > ir.SnapshotVersion {
		return Snapshot{}, fmt.Errorf("read snapshot %s: version %d is newer than %d", filepath.Base(path), snap.Version, ir.SnapshotVersion)
	}
	if got := ir.SnapshotDigest(snap.Data); got != snap.Digest {
		return Snapshot{}, fmt.Errorf("read snapshot %s: digest mismatch", filepath.Base(path))
	}
	return snap, nil
}

// ListBackups returns the backups in dir ordered by seq, then timestamp.
func ListBackups(dir string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	out := []Backup{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupSuffix) {
			continue
		}
		head, stamp, ok := strings.Cut(strings.TrimSuffix(e.Name(), backupSuffix), "._")
		if !ok {
			continue
		}
		seq, err := strconv.ParseUint(head, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Backup{Seq: seq, Stamp: stamp, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Stamp < out[j].Stamp
	})
	return out, nil
}

// AnchorBackup returns the earliest backup in dir, the state the directory's
// recordings start from. Returns ErrNoSnapshot if dir holds no backup.
func AnchorBackup(dir string) (Backup, error) {
	backups, err := ListBackups(dir)
	if err != nil {
		return Backup{}, err
	}
	if len(backups) == 0 {
		return Backup{}, ErrNoSnapshot
	}
	return backups[0], nil
}

// PruneBackups keeps at most max backups in the active directory, deleting
// the oldest first. The anchor backup is always kept. max <= 0 disables
// pruning. Returns the removed paths.
func (s *Store) PruneBackups(max int) ([]string, error) {
	active := s.ActiveDir()
	if active == "" || max <= 0 {
		return nil, nil
	}
	backups, err := ListBackups(active)
	if err != nil {
		return nil, err
	}
	removed := []string{}
	excess := len(backups) - max
	for i := 1; i < len(backups) && excess > 0; i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return removed, fmt.Errorf("prune backups: %w", err)
		}
		removed = append(removed, backups[i].Path)
		excess--
	}
	return removed, nil
}
