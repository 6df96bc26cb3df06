package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// ErrNoSnapshot is returned when the archive holds no matching snapshot.
var ErrNoSnapshot = errors.New("no snapshot")

const entryColumns = `seq, root, digest, node_count, has_intent, encoding, runtime`

const latestEntryQuery = `SELECT ` + entryColumns + ` FROM snapshots ORDER BY seq DESC LIMIT 1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, extra ...any) (Entry, error) {
	var e Entry
	var root string
	dest := append([]any{&e.Seq, &root, &e.Digest, &e.NodeCount, &e.HasIntent, &e.Encoding, &e.Runtime}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Entry{}, err
	}
	e.Root = ir.NodeID(root)
	return e, nil
}

// scanLatestEntry treats an empty table as found=false rather than an error.
func scanLatestEntry(row *sql.Row) (Entry, bool, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read latest entry: %w", err)
	}
	return e, true, nil
}

// List returns every entry ordered by seq ascending.
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM snapshots ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: iterate: %w", err)
	}
	return entries, nil
}

// Get loads the snapshot stored at seq. The body digest is checked against
// the stored digest.
func (a *Archive) Get(ctx context.Context, seq int64) (Entry, ir.TreeStateRecord, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+entryColumns+`, body FROM snapshots WHERE seq = ?`, seq)
	return loadSnapshot(row, fmt.Sprintf("snapshot %d", seq))
}

// Latest loads the newest snapshot.
func (a *Archive) Latest(ctx context.Context) (Entry, ir.TreeStateRecord, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+entryColumns+`, body FROM snapshots ORDER BY seq DESC LIMIT 1`)
	return loadSnapshot(row, "latest snapshot")
}

// LastSeq returns the highest seq in the archive, or 0 when empty.
func (a *Archive) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := a.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM snapshots`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

func loadSnapshot(row *sql.Row, what string) (Entry, ir.TreeStateRecord, error) {
	var body []byte
	e, err := scanEntry(row, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ir.TreeStateRecord{}, fmt.Errorf("%s: %w", what, ErrNoSnapshot)
	}
	if err != nil {
		return Entry{}, ir.TreeStateRecord{}, fmt.Errorf("%s: %w", what, err)
	}
	tree, err := decodeEntryBody(e, body)
	if err != nil {
		return Entry{}, ir.TreeStateRecord{}, fmt.Errorf("%s: %w", what, err)
	}
	return e, tree, nil
}
