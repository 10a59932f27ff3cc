package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/plancast/internal/ir"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ChecksumSource tags where a journaled checksum was produced.
type ChecksumSource string

const (
	SourceLive   ChecksumSource = "live"
	SourceReplay ChecksumSource = "replay"
)

// Journal is the SQLite catalog of recordings and produced checksums.
type Journal struct {
	db *sql.DB
}

// IndexedRecording is one row of the recordings catalog.
type IndexedRecording struct {
	Seq            uint64
	TransmissionID uuid.UUID
	Scope          string
	Type           ir.TypeTag
	Directory      string
	Path           string
	RecordedAt     time.Time
}

// OpenJournal creates or opens the journal database at path and applies
// pending migrations.
func OpenJournal(path string) (*Journal, error) {
	if err := migrateJournal(path); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: connect: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// migrateJournal runs migrations on a dedicated connection; closing the
// migrate instance closes that connection.
func migrateJournal(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	driver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate: driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// IndexRecording adds a recording to the catalog. Re-indexing the same
// seq is a no-op.
func (j *Journal) IndexRecording(ctx context.Context, r IndexedRecording) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO recordings
		(seq, transmission_id, scope_id, type_tag, directory, path, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		int64(r.Seq),
		r.TransmissionID.String(),
		r.Scope,
		string(r.Type),
		r.Directory,
		r.Path,
		r.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("index recording %d: %w", r.Seq, err)
	}
	return nil
}

// IndexedRecordings returns catalog rows with seq > after, in seq order.
func (j *Journal) IndexedRecordings(ctx context.Context, after uint64) ([]IndexedRecording, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, transmission_id, scope_id, type_tag, directory, path, recorded_at
		FROM recordings
		WHERE seq > ?
		ORDER BY seq ASC
	`, int64(after))
	if err != nil {
		return nil, fmt.Errorf("list indexed recordings: %w", err)
	}
	defer rows.Close()

	out := []IndexedRecording{}
	for rows.Next() {
		var (
			r          IndexedRecording
			seq        int64
			id, tag    string
			recordedAt string
		)
		if err := rows.Scan(&seq, &id, &r.Scope, &tag, &r.Directory, &r.Path, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan indexed recording: %w", err)
		}
		r.Seq = uint64(seq)
		r.Type = ir.TypeTag(tag)
		if r.TransmissionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("indexed recording %d: bad id: %w", seq, err)
		}
		if r.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("indexed recording %d: bad timestamp: %w", seq, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list indexed recordings: %w", err)
	}
	return out, nil
}

// LastIndexedSeq returns the highest indexed seq, or 0 when empty.
func (j *Journal) LastIndexedSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM recordings`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last indexed seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ForgetDirectory removes catalog rows of a deleted recording directory.
func (j *Journal) ForgetDirectory(ctx context.Context, dir string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM recordings WHERE directory = ?`, dir); err != nil {
		return fmt.Errorf("forget directory %s: %w", dir, err)
	}
	return nil
}

// WriteChecksum journals a produced checksum. Duplicate writes for the same
// (transmission, scope, source) are ignored.
func (j *Journal) WriteChecksum(ctx context.Context, rec ir.ChecksumRecord, source ChecksumSource) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO checksums
		(transmission_id, scope_id, source, seq, digest, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.TransmissionID.String(),
		rec.Scope,
		string(source),
		int64(rec.Seq),
		rec.Digest,
		rec.ComputedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write checksum %s: %w", rec.TransmissionID, err)
	}
	return nil
}

// Checksums returns journaled checksums from source in (seq, scope) order.
func (j *Journal) Checksums(ctx context.Context, source ChecksumSource) ([]ir.ChecksumRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT transmission_id, scope_id, seq, digest, computed_at
		FROM checksums
		WHERE source = ?
		ORDER BY seq ASC, scope_id COLLATE BINARY ASC
	`, string(source))
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	defer rows.Close()

	out := []ir.ChecksumRecord{}
	for rows.Next() {
		var (
			rec        ir.ChecksumRecord
			id         string
			seq        int64
			computedAt string
		)
		if err := rows.Scan(&id, &rec.Scope, &seq, &rec.Digest, &computedAt); err != nil {
			return nil, fmt.Errorf("scan checksum: %w", err)
		}
		rec.Seq = uint64(seq)
		if rec.TransmissionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("checksum at seq %d: bad id: %w", seq, err)
		}
		if rec.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
			return nil, fmt.Errorf("checksum at seq %d: bad timestamp: %w", seq, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	return out, nil
}

// ClearChecksums removes every checksum from source. Used before a replay
// verification run so stale replay rows never mask a divergence.
func (j *Journal) ClearChecksums(ctx context.Context, source ChecksumSource) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM checksums WHERE source = ?`, string(source)); err != nil {
		return fmt.Errorf("clear %s checksums: %w", source, err)
	}
	return nil
}
