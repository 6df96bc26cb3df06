package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/grove/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// ErrFormatMismatch is returned when an archive was written with a
// different snapshot format than this build reads.
var ErrFormatMismatch = errors.New("snapshot format mismatch")

// migrations[i] upgrades an archive from user_version i to i+1.
var migrations = []func(*sql.Tx) error{
	// 0 -> 1: digest lookups.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_snapshots_digest ON snapshots(digest)`)
		return err
	},
	// 1 -> 2: archive-wide metadata, seeded with the current format.
	func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS archive_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT OR IGNORE INTO archive_meta (key, value) VALUES ('snapshot_format', ?)`,
			ir.SnapshotVersion)
		return err
	},
}

var currentSchemaVersion = len(migrations)

// archivePragmas are applied on open. Values are what PRAGMA reads back.
var archivePragmas = []struct{ name, value string }{
	{"journal_mode", "wal"},
	{"synchronous", "1"},
	{"busy_timeout", "5000"},
}

// Archive is a durable, append-only log of tree snapshots backed by SQLite.
type Archive struct {
	db *sql.DB
}

// OpenArchive creates or opens the archive database at path, migrates it,
// and checks that its snapshots use the format this build reads. Opening
// the same file repeatedly is safe.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db}
	if err := a.prepare(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return a, nil
}

func (a *Archive) prepare() error {
	if err := a.db.Ping(); err != nil {
		return err
	}
	for _, p := range archivePragmas {
		if _, err := a.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := a.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := a.migrate(); err != nil {
		return err
	}
	format, err := a.SnapshotFormat()
	if err != nil {
		return err
	}
	if format != ir.SnapshotVersion {
		return fmt.Errorf("%w: archive has %q, runtime reads %q", ErrFormatMismatch, format, ir.SnapshotVersion)
	}
	return nil
}

// migrate runs each pending migration in its own transaction and bumps
// user_version as it goes.
func (a *Archive) migrate() error {
	var version int
	if err := a.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := a.db.Begin()
		if err != nil {
			return err
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// SnapshotFormat reports the snapshot format recorded when the archive
// was created.
func (a *Archive) SnapshotFormat() (string, error) {
	var format string
	err := a.db.QueryRow(`SELECT value FROM archive_meta WHERE key = 'snapshot_format'`).Scan(&format)
	if err != nil {
		return "", fmt.Errorf("read snapshot format: %w", err)
	}
	return format, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// pragma reads back a single pragma value.
func (a *Archive) pragma(name string) (string, error) {
	var value string
	if err := a.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
