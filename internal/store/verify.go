package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// ErrDigestMismatch is returned when a stored body no longer hashes to its
// recorded digest.
var ErrDigestMismatch = errors.New("digest mismatch")

// VerifyIssue describes one archived snapshot that failed verification.
type VerifyIssue struct {
	Seq     int64  `json:"seq"`
	Problem string `json:"problem"`
}

func decodeEntryBody(e Entry, body []byte) (ir.TreeStateRecord, error) {
	tree, err := decodeBody(e.Encoding, body)
	if err != nil {
		return ir.TreeStateRecord{}, err
	}
	digest, err := tree.Digest()
	if err != nil {
		return ir.TreeStateRecord{}, err
	}
	if digest != e.Digest {
		return ir.TreeStateRecord{}, fmt.Errorf("%w: stored %s, computed %s", ErrDigestMismatch, e.Digest, digest)
	}
	return tree, nil
}

// Verify replays every archived snapshot in seq order: each body must
// decode, hash to its stored digest, and pass structural validation.
// Problems are collected rather than stopping at the first.
func (a *Archive) Verify(ctx context.Context) ([]VerifyIssue, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+entryColumns+`, body FROM snapshots ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("verify snapshots: %w", err)
	}
	defer rows.Close()

	var issues []VerifyIssue
	for rows.Next() {
		var body []byte
		e, err := scanEntry(rows, &body)
		if err != nil {
			return nil, fmt.Errorf("verify snapshots: scan: %w", err)
		}

		tree, err := decodeEntryBody(e, body)
		if err != nil {
			issues = append(issues, VerifyIssue{Seq: e.Seq, Problem: err.Error()})
			continue
		}
		if len(tree.Nodes) != e.NodeCount {
			issues = append(issues, VerifyIssue{
				Seq:     e.Seq,
				Problem: fmt.Sprintf("node_count %d, body holds %d", e.NodeCount, len(tree.Nodes)),
			})
		}
		for _, verr := range tree.Validate() {
			issues = append(issues, VerifyIssue{Seq: e.Seq, Problem: verr.Error()})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify snapshots: iterate: %w", err)
	}
	return issues, nil
}
