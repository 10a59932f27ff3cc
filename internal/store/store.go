package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/plancast/internal/ir"
)

const (
	recordingsDirName = "recordings"
	journalName       = "journal.db"
	recordingSuffix   = ".bin"
	dirTimeLayout     = "20060102T150405Z"
)

var (
	// ErrNoActiveRecording is returned by Append before StartRecording.
	ErrNoActiveRecording = errors.New("no active recording directory")

	// ErrNoSnapshot is returned when no snapshot file exists.
	ErrNoSnapshot = errors.New("no snapshot")
)

// Codec encodes and decodes self-describing transmission records.
type Codec interface {
	Encode(ir.Transmission) ([]byte, error)
	Decode([]byte) (ir.Transmission, error)
}

// Recording is one recorded transmission file.
type Recording struct {
	Seq  uint64
	Type ir.TypeTag
	Dir  string
	Path string
}

// Store is the durable transmission log rooted at a work directory.
// Thread-safety: safe for concurrent use; appends are serialized.
type Store struct {
	root    string
	codec   Codec
	journal *Journal
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	active string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for directory and file names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens the store rooted at root.
func Open(root string, codec Codec, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, recordingsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	journal, err := OpenJournal(filepath.Join(root, journalName))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{
		root:    root,
		codec:   codec,
		journal: journal,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the journal.
func (s *Store) Close() error {
	return s.journal.Close()
}

// Root returns the work directory.
func (s *Store) Root() string { return s.root }

// Journal returns the recording catalog and checksum journal.
func (s *Store) Journal() *Journal { return s.journal }

// ActiveDir returns the active recording directory, or "" if none.
func (s *Store) ActiveDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// StartRecording creates a new dated recording directory, writes its
// manifest and makes it the target of subsequent appends.
func (s *Store) StartRecording(firstSeq uint64, runMode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now().UTC()
	base := filepath.Join(s.root, recordingsDirName, started.Format(dirTimeLayout))
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("start recording: %w", err)
		}
		dir = fmt.Sprintf("%s-%d", base, i)
	}

	m := Manifest{
		RunMode:       runMode,
		StartedAt:     started,
		FirstSeq:      firstSeq,
		ServerVersion: ir.ServerVersion,
	}
	if err := writeManifest(dir, m); err != nil {
		return "", fmt.Errorf("start recording: %w", err)
	}

	s.active = dir
	s.logger.Info("recording started", "dir", dir, "first_seq", firstSeq, "run_mode", runMode)
	return dir, nil
}

// Append durably records t in the active recording directory.
func (s *Store) Append(ctx context.Context, t ir.Transmission) (Recording, error) {
	if t.Seq == 0 {
		return Recording{}, fmt.Errorf("append %s: transmission has no sequence number", t.ID)
	}
	data, err := s.codec.Encode(t)
	if err != nil {
		return Recording{}, fmt.Errorf("append %d: %w", t.Seq, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return Recording{}, ErrNoActiveRecording
	}

	rec := Recording{
		Seq:  t.Seq,
		Type: t.Type,
		Dir:  s.active,
		Path: filepath.Join(s.active, recordingFileName(t.Seq, t.Type)),
	}
	if err := writeFileAtomic(rec.Path, data); err != nil {
		return Recording{}, fmt.Errorf("append %d: %w", t.Seq, err)
	}

	err = s.journal.IndexRecording(ctx, IndexedRecording{
		Seq:            t.Seq,
		TransmissionID: t.ID,
		Scope:          t.Scope,
		Type:           t.Type,
		Directory:      filepath.Base(s.active),
		Path:           rec.Path,
		RecordedAt:     s.now(),
	})
	if err != nil {
		// The file is the durable record; a catalog miss is repaired by Reindex.
		s.logger.Warn("recording not indexed", "seq", t.Seq, "error", err)
	}
	return rec, nil
}

// ReadRecording decodes the recorded transmission at path.
func (s *Store) ReadRecording(path string) (ir.Transmission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Transmission{}, fmt.Errorf("read recording: %w", err)
	}
	t, err := s.codec.Decode(data)
	if err != nil {
		return ir.Transmission{}, fmt.Errorf("read recording %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// RecordingDirs returns the recording directories, oldest first.
func (s *Store) RecordingDirs() ([]string, error) {
	parent := filepath.Join(s.root, recordingsDirName)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("list recording dirs: %w", err)
	}
	dirs := []string{}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(parent, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ListRecordings returns the recordings in dir ordered by sequence number.
func ListRecordings(dir string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	out := []Recording{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, tag, ok := parseRecordingName(e.Name())
		if !ok {
			continue
		}
		out = append(out, Recording{Seq: seq, Type: tag, Dir: dir, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// RecordingsAfter returns every recording with seq > after across all
// recording directories, in sequence order.
func (s *Store) RecordingsAfter(after uint64) ([]Recording, error) {
	dirs, err := s.RecordingDirs()
	if err != nil {
		return nil, err
	}
	out := []Recording{}
	for _, dir := range dirs {
		recs, err := ListRecordings(dir)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Seq > after {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LastRecordedSeq returns the highest recorded seq found on disk.
func (s *Store) LastRecordedSeq() (uint64, error) {
	recs, err := s.RecordingsAfter(0)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Seq, nil
}

// Reindex rebuilds catalog rows for every recording file on disk.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	recs, err := s.RecordingsAfter(0)
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		t, err := s.ReadRecording(r.Path)
		if err != nil {
			return 0, fmt.Errorf("reindex: %w", err)
		}
		info, err := os.Stat(r.Path)
		if err != nil {
			return 0, fmt.Errorf("reindex: %w", err)
		}
		err = s.journal.IndexRecording(ctx, IndexedRecording{
			Seq:            r.Seq,
			TransmissionID: t.ID,
			Scope:          t.Scope,
			Type:           t.Type,
			Directory:      filepath.Base(r.Dir),
			Path:           r.Path,
			RecordedAt:     info.ModTime(),
		})
		if err != nil {
			return 0, fmt.Errorf("reindex: %w", err)
		}
	}
	return len(recs), nil
}

// PruneRecordings deletes recording directories oldest first until at most
// max remain. Directories holding neither recordings nor backups are always
// removed; the manifest alone does not count. The
// active directory and any directory holding a recording with seq > keepAfter
// (not yet covered by a snapshot) are never removed. max <= 0 disables the
// count limit. Returns the removed directories.
func (s *Store) PruneRecordings(ctx context.Context, max int, keepAfter uint64) ([]string, error) {
	dirs, err := s.RecordingDirs()
	if err != nil {
		return nil, err
	}
	active := s.ActiveDir()

	type candidate struct {
		dir       string
		empty     bool
		protected bool
	}
	cands := make([]candidate, 0, len(dirs))
	for _, dir := range dirs {
		recs, err := ListRecordings(dir)
		if err != nil {
			return nil, err
		}
		backups, err := ListBackups(dir)
		if err != nil {
			return nil, err
		}
		c := candidate{dir: dir, empty: len(recs) == 0 && len(backups) == 0, protected: dir == active}
		if len(recs) > 0 && recs[len(recs)-1].Seq > keepAfter {
			c.protected = true
		}
		cands = append(cands, c)
	}

	removed := []string{}
	remaining := len(cands)
	for _, c := range cands {
		if c.protected {
			continue
		}
		if !c.empty && (max <= 0 || remaining <= max) {
			continue
		}
		if err := os.RemoveAll(c.dir); err != nil {
			return removed, fmt.Errorf("prune recordings: %w", err)
		}
		if err := s.journal.ForgetDirectory(ctx, filepath.Base(c.dir)); err != nil {
			s.logger.Warn("pruned directory still indexed", "dir", c.dir, "error", err)
		}
		removed = append(removed, c.dir)
		remaining--
	}
	if len(removed) > 0 {
		s.logger.Info("recordings pruned", "removed", len(removed), "remaining", remaining)
	}
	return removed, nil
}

func recordingFileName(seq uint64, tag ir.TypeTag) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, string(tag))
	return fmt.Sprintf("%010d.%s%s", seq, safe, recordingSuffix)
}

func parseRecordingName(name string) (uint64, ir.TypeTag, bool) {
	if !strings.HasSuffix(name, recordingSuffix) {
		return 0, "", false
	}
	head, tag, ok := strings.Cut(strings.TrimSuffix(name, recordingSuffix), ".")
	if !ok || tag == "" || len(head) < 10 {
		return 0, "", false
	}
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return seq, ir.TypeTag(tag), true
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
