package engine

import (
	"fmt"

	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// restoreTree replaces the tree with a captured state. The current tree is
// detached, the store is loaded from the snapshot, and a new root scope
// adopts the stored records as its rules declare them. Records no rule
// claims are removed once the tree settles.
func (rt *Runtime) restoreTree(root Node, tree ir.TreeStateRecord) error {
	if tree.Root != ir.RootID {
		return fmt.Errorf("restore: snapshot root %q, want %q", tree.Root, ir.RootID)
	}
	tree = tree.Clone()
	tree.SortNodes()

	schema := root.Schema()
	if err := schema.Validate(); err != nil {
		return &RuntimeError{Code: ErrCodeDeclaration, Message: "invalid root schema", Node: ir.RootID, Err: err}
	}
	if old, ok := rt.scopes[ir.RootID]; ok {
		if err := rt.dispose(old); err != nil {
			return err
		}
	}
	if err := rt.store.Restore(tree); err != nil {
		return err
	}

	rt.intent = nil
	if tree.Intent != nil && len(tree.Intent.Steps) > 0 {
		from := tree.Intent.From
		if !from.Valid() {
			from = ir.RootID
		}
		rt.intent = &pendingIntent{steps: intent.FromRecord(tree.Intent), from: from}
	}

	rt.txn.restoring = true
	if err := rt.normalizeRecord(ir.RootID, schema); err != nil {
		return err
	}
	rt.markDirty(rt.newScope(ir.RootID, root, schema, nil, rt.env))
	rt.logger.Info("tree restored", "nodes", len(tree.Nodes), "digest", tree.MustDigest())
	return nil
}

// sweepOrphans removes records that no live scope adopted.
func (rt *Runtime) sweepOrphans() {
	n := 0
	for _, id := range rt.store.IDs() {
		if _, live := rt.scopes[id]; live {
			continue
		}
		_ = rt.store.RemoveRecord(id)
		n++
	}
	if n > 0 {
		rt.logger.Debug("orphan records removed", "count", n)
	}
}
