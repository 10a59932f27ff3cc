package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const manifestName = "session.toml"

// Manifest describes one recording directory.
type Manifest struct {
	RunMode       string    `toml:"run_mode"`
	StartedAt     time.Time `toml:"started_at"`
	FirstSeq      uint64    `toml:"first_seq"`
	ServerVersion string    `toml:"server_version"`
}

func writeManifest(dir string, m Manifest) error {
	f, err := os.Create(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest reads the manifest of a recording directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(dir, manifestName), &m); err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", dir, err)
	}
	return m, nil
}
