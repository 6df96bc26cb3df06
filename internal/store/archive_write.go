package store

import (
	"context"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// Entry is the metadata row for one archived snapshot.
type Entry struct {
	Seq       int64
	Root      ir.NodeID
	Digest    string
	NodeCount int
	HasIntent bool
	Encoding  string
	Runtime   string
}

// Append stores tree as the next snapshot and returns its entry. Appending a
// snapshot whose digest equals the latest entry is a no-op that returns the
// existing entry.
func (a *Archive) Append(ctx context.Context, tree ir.TreeStateRecord) (Entry, error) {
	digest, err := tree.Digest()
	if err != nil {
		return Entry{}, fmt.Errorf("append snapshot: %w", err)
	}
	body, err := encodeBody(tree)
	if err != nil {
		return Entry{}, fmt.Errorf("append snapshot: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("append snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	latest, found, err := scanLatestEntry(tx.QueryRowContext(ctx, latestEntryQuery))
	if err != nil {
		return Entry{}, fmt.Errorf("append snapshot: %w", err)
	}
	if found && latest.Digest == digest {
		return latest, nil
	}

	entry := Entry{
		Seq:       latest.Seq + 1,
		Root:      tree.Root,
		Digest:    digest,
		NodeCount: len(tree.Nodes),
		HasIntent: tree.Intent != nil,
		Encoding:  EncodingBrotliJSON,
		Runtime:   ir.RuntimeVersion,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots
		(seq, root, digest, node_count, has_intent, encoding, runtime, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Seq,
		string(entry.Root),
		entry.Digest,
		entry.NodeCount,
		entry.HasIntent,
		entry.Encoding,
		entry.Runtime,
		body,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append snapshot: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("append snapshot: commit: %w", err)
	}
	return entry, nil
}

// Prune deletes all but the newest keep snapshots and reports how many rows
// were removed. keep <= 0 keeps everything.
func (a *Archive) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE seq NOT IN (SELECT seq FROM snapshots ORDER BY seq DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: rows affected: %w", err)
	}
	return n, nil
}
