package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/grove/internal/behavior"
	"github.com/roach88/grove/internal/ir"
)

// txn is the bookkeeping of one write.
type txn struct {
	ctx   context.Context
	guard *evalGuard

	dirty   map[*Scope]struct{}
	effects []queuedEffect

	saved        map[*Scope]*scopeSave
	created      []*Scope
	intentBefore *pendingIntent

	pending      []*behavior.Handle
	cancelOwners []string

	restoring bool

	// intentSet is true once the write replaced the pending intent.
	intentSet bool
	// attachmentsChanged is true once any route started or stopped a child.
	attachmentsChanged bool
}

// WriteStats summarizes the most recent committed write.
type WriteStats struct {
	// Evaluations counts Rules runs across all nodes.
	Evaluations int
	// Changes counts records added, removed or modified.
	Changes int
	// AttachmentsChanged reports whether any child was started or stopped,
	// as opposed to only updated in place.
	AttachmentsChanged bool
}

// transact runs body as one write: mutate, settle, advance the intent,
// then commit, or roll back and report on any error. A panic in node code
// that escapes the narrower recovers is rolled back like an error.
func (rt *Runtime) transact(ctx context.Context, body func() error) error {
	if err := rt.begin(ctx); err != nil {
		return err
	}
	defer rt.enterWrite()()
	err := rt.runWrite(body)
	if err != nil {
		rt.rollback()
		rt.sink(err)
		return err
	}
	rt.commit()
	return nil
}

func (rt *Runtime) runWrite(body func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RuntimeError{Code: ErrCodeHandler, Message: "write panicked", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err = body(); err != nil {
		return err
	}
	if err = rt.settle(); err != nil {
		return err
	}
	t := rt.txn
	if t.restoring {
		rt.sweepOrphans()
	}
	// Claims only change when a node is re-evaluated or the tree changes
	// shape, so a write that did neither cannot move the intent.
	if t.intentSet || t.attachmentsChanged || t.guard.Total() > 0 {
		if err = rt.advanceIntent(); err != nil {
			return err
		}
	}
	if rt.checks {
		return rt.checkConsistency()
	}
	return nil
}

func (rt *Runtime) begin(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := rt.store.Begin(); err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	rt.txn = &txn{
		ctx:          context.WithValue(ctx, writeKey{}, rt),
		guard:        newEvalGuard(rt.maxEvals),
		dirty:        make(map[*Scope]struct{}),
		saved:        make(map[*Scope]*scopeSave),
		intentBefore: rt.intent.clone(),
	}
	return nil
}

func (rt *Runtime) commit() {
	t := rt.txn
	changes := rt.store.Commit()
	rt.txn = nil

	for _, owner := range t.cancelOwners {
		if n := rt.sup.CancelOwner(owner); n > 0 {
			rt.logger.Debug("behaviors cancelled", "owner", owner, "count", n)
		}
	}
	for _, h := range t.pending {
		h.Start()
	}

	rt.publish(rt.notificationsFor(changes))

	intentChanged := !reflect.DeepEqual(t.intentBefore.record(), rt.intent.record())
	if rt.archive != nil && rt.store.Has(ir.RootID) && (len(changes) > 0 || intentChanged) {
		rt.archiveSnapshot(t.ctx)
	}

	rt.lastWrite = WriteStats{
		Evaluations:        t.guard.Total(),
		Changes:            len(changes),
		AttachmentsChanged: t.attachmentsChanged,
	}
	rt.logger.Debug("write committed",
		"evaluations", t.guard.Total(),
		"changes", len(changes),
		"attachments", t.attachmentsChanged,
		"behaviors", len(t.pending),
	)
}

func (rt *Runtime) rollback() {
	t := rt.txn
	rt.store.Rollback()
	rt.txn = nil

	for _, h := range t.pending {
		h.Discard()
	}

	created := make(map[*Scope]bool, len(t.created))
	for _, s := range t.created {
		created[s] = true
		if rt.scopes[s.id] == s {
			delete(rt.scopes, s.id)
		}
		s.disposed = true
	}
	for s, sv := range t.saved {
		if created[s] {
			continue
		}
		s.restore(sv)
		if !s.disposed {
			rt.scopes[s.id] = s
		}
	}
	rt.rebuildReaders()
	rt.intent = t.intentBefore
}

func (rt *Runtime) archiveSnapshot(ctx context.Context) {
	tree := rt.snapshot()
	entry, err := rt.archive.Append(ctx, tree)
	if err != nil {
		rt.sink(fmt.Errorf("archive snapshot: %w", err))
		return
	}
	rt.logger.Debug("snapshot archived", "seq", entry.Seq, "digest", entry.Digest)
	if rt.keep > 0 {
		if _, err := rt.archive.Prune(ctx, rt.keep); err != nil {
			rt.sink(fmt.Errorf("prune archive: %w", err))
		}
	}
}

// markDirty schedules s for evaluation in the current write.
func (rt *Runtime) markDirty(s *Scope) {
	if rt.txn == nil || s.disposed {
		return
	}
	rt.txn.dirty[s] = struct{}{}
}

// nextDirty picks the shallowest dirty scope, ties broken by NodeID, so
// parents settle before the children they may replace.
func (t *txn) nextDirty() *Scope {
	var best *Scope
	for s := range t.dirty {
		if best == nil || s.depth < best.depth || s.depth == best.depth && s.id < best.id {
			best = s
		}
	}
	return best
}

// writeField stores v and invalidates the nodes that read f.
func (rt *Runtime) writeField(f ir.FieldID, v ir.IRValue) error {
	changed, err := rt.store.Write(f, v)
	if err != nil {
		return &RuntimeError{Code: ErrCodeUnknownField, Message: "write rejected", Node: f.Node, Err: err}
	}
	if !changed {
		return nil
	}
	for s := range rt.readers[f] {
		rt.markDirty(s)
	}
	return nil
}

// settle runs queued effects and evaluates dirty scopes until neither is
// left.
func (rt *Runtime) settle() error {
	t := rt.txn
	for {
		if len(t.effects) > 0 {
			e := t.effects[0]
			t.effects = t.effects[1:]
			if e.scope.disposed {
				continue
			}
			if err := rt.runHandler(e.scope, e.fn, e.label); err != nil {
				return err
			}
			continue
		}
		s := t.nextDirty()
		if s == nil {
			return nil
		}
		if err := t.guard.Record(s.id); err != nil {
			return err
		}
		if err := rt.evaluate(s); err != nil {
			return err
		}
	}
}

// evaluate reruns s's rules and reconciles what they declare.
func (rt *Runtime) evaluate(s *Scope) (err error) {
	rt.touchScope(s)
	delete(rt.txn.dirty, s)

	c := newContext(rt, s)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = declarationError(s.id, "rules panicked: %v", p)
			}
		}()
		s.node.Rules(c)
	}()
	if err != nil {
		return err
	}
	if len(c.errs) > 0 {
		return joinDeclErrors(s.id, c.errs)
	}

	rt.setDeps(s, c.deps)
	for offset := range s.schema.Routes {
		changed, err := rt.reconcileRoute(s, offset, c.routes[offset])
		if err != nil {
			return err
		}
		if changed {
			rt.txn.attachmentsChanged = true
		}
	}
	if err := rt.reconcileEffects(s, c.effects); err != nil {
		return err
	}
	s.claims = c.claims
	s.evaluated = true
	rt.logger.Debug("node evaluated", "node", s.id, "type", s.schema.Type, "count", rt.txn.guard.Count(s.id))
	return nil
}

func joinDeclErrors(node ir.NodeID, errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return &RuntimeError{
		Code:    ErrCodeDeclaration,
		Message: fmt.Sprintf("%d declaration errors", len(errs)),
		Node:    node,
		Err:     errors.Join(errs...),
	}
}

// runHandler invokes fn with a Tx anchored at s. Panics become errors.
func (rt *Runtime) runHandler(s *Scope, fn Handler, label string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = handlerError(s.id, label, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(rt.newTx(s)); err != nil {
		return handlerError(s.id, label, err)
	}
	return nil
}
