package engine

import (
	"context"
	"errors"

	"github.com/roach88/grove/internal/behavior"
	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// ErrTxClosed is returned when a Tx is used after its write has ended.
var ErrTxClosed = errors.New("transaction closed")

// Handler is a mutation run inside a write: an effect, an intent action,
// an Update callback or a behavior observer. Returning an error rolls the
// whole write back.
type Handler func(tx *Tx) error

// Tx is a handler's view of the tree, anchored at one node.
type Tx struct {
	rt    *Runtime
	txn   *txn
	scope *Scope
}

func (rt *Runtime) newTx(s *Scope) *Tx {
	return &Tx{rt: rt, txn: rt.txn, scope: s}
}

func (tx *Tx) live() error {
	if tx.txn == nil || tx.rt.txn != tx.txn {
		return ErrTxClosed
	}
	return nil
}

// Context returns the write's context. Passing it to a runtime write
// method is detected as a re-entrant write.
func (tx *Tx) Context() context.Context { return tx.txn.ctx }

// Node returns the id of the node the Tx is anchored at.
func (tx *Tx) Node() ir.NodeID { return tx.scope.id }

// Type returns the anchor node's type.
func (tx *Tx) Type() string { return tx.scope.schema.Type }

// Env returns the nearest environment entry for key.
func (tx *Tx) Env(key string) (any, bool) { return tx.scope.lookupEnv(key) }

// Get reads a value field of the anchor node.
func (tx *Tx) Get(name string) ir.IRValue {
	off, ok := tx.scope.schema.ValueOffset(name)
	if !ok {
		return ir.IRNull{}
	}
	v, ok := tx.rt.store.Read(ir.ValueField(tx.scope.id, off))
	if !ok {
		return ir.IRNull{}
	}
	return v
}

// Int reads a field of the anchor node as an integer.
func (tx *Tx) Int(name string) int64 {
	v, _ := tx.Get(name).(ir.IRInt)
	return int64(v)
}

// String reads a field of the anchor node as a string.
func (tx *Tx) String(name string) string {
	v, _ := tx.Get(name).(ir.IRString)
	return string(v)
}

// Bool reads a field of the anchor node as a boolean.
func (tx *Tx) Bool(name string) bool {
	v, _ := tx.Get(name).(ir.IRBool)
	return bool(v)
}

// Read reads any field in the tree.
func (tx *Tx) Read(f ir.FieldID) (ir.IRValue, bool) {
	return tx.rt.store.Read(f)
}

// Set writes a value field of the anchor node.
func (tx *Tx) Set(name string, v ir.IRValue) error {
	off, ok := tx.scope.schema.ValueOffset(name)
	if !ok {
		return unknownFieldError(tx.scope.id, name)
	}
	return tx.Write(ir.ValueField(tx.scope.id, off), v)
}

// Write writes any value field in the tree. Nodes that read the field are
// re-evaluated before the write completes.
func (tx *Tx) Write(f ir.FieldID, v ir.IRValue) error {
	if err := tx.live(); err != nil {
		return err
	}
	return tx.rt.writeField(f, v)
}

// At returns a Tx anchored at another live node.
func (tx *Tx) At(id ir.NodeID) (*Tx, error) {
	if err := tx.live(); err != nil {
		return nil, err
	}
	s, ok := tx.rt.scopes[id]
	if !ok {
		return nil, &RuntimeError{Code: ErrCodeUnknownField, Message: "no live node", Node: id}
	}
	return &Tx{rt: tx.rt, txn: tx.txn, scope: s}, nil
}

// Parent returns a Tx anchored at the anchor's parent.
func (tx *Tx) Parent() (*Tx, bool) {
	if tx.scope.parent == nil {
		return nil, false
	}
	return &Tx{rt: tx.rt, txn: tx.txn, scope: tx.scope.parent}, true
}

// Children returns the ids currently attached under the named route.
func (tx *Tx) Children(route string) []ir.NodeID {
	off, ok := tx.scope.schema.RouteOffset(route)
	if !ok {
		return nil
	}
	rec, ok := tx.rt.store.ReadRoute(ir.RouteField(tx.scope.id, off))
	if !ok {
		return nil
	}
	return rec.IDs()
}

// Signal replaces the pending intent. The new intent is advanced before
// the current write commits.
func (tx *Tx) Signal(i intent.Intent) error {
	if err := tx.live(); err != nil {
		return err
	}
	tx.rt.setIntent(i)
	return nil
}

// Run requests a behavior on behalf of the anchor node. The behavior
// starts when the write commits; if the write rolls back it never starts.
// It is cancelled when the anchor node is detached. Observer callbacks run
// as later writes anchored at the same node.
func (tx *Tx) Run(b behavior.Behavior, input any, obs Observer) *behavior.Handle {
	rt := tx.rt
	h := rt.sup.Prepare(tx.scope.owner(), b, input, rt.observe(tx.scope, b.ID, obs))
	if tx.live() != nil {
		h.Discard()
		return h
	}
	tx.txn.pending = append(tx.txn.pending, h)
	return h
}

// Observer receives a behavior's outcome. Each callback runs in its own
// write anchored at the node that requested the behavior, and is dropped
// if that node has been detached.
type Observer struct {
	OnSuccess func(tx *Tx, value any) error
	OnFailure func(tx *Tx, err error) error
	OnCancel  func(tx *Tx) error
	OnEmit    func(tx *Tx, value any) error
}

// observe adapts an engine Observer into supervisor callbacks. The
// supervisor invokes them on the pump, which already holds the runtime
// lock.
func (rt *Runtime) observe(s *Scope, id behavior.ID, obs Observer) behavior.Observer {
	var out behavior.Observer
	if obs.OnSuccess != nil {
		out.OnSuccess = func(v any) {
			rt.deliver(s, id, "success", func(tx *Tx) error { return obs.OnSuccess(tx, v) })
		}
	}
	if obs.OnFailure != nil {
		out.OnFailure = func(err error) {
			rt.deliver(s, id, "failure", func(tx *Tx) error { return obs.OnFailure(tx, err) })
		}
	}
	if obs.OnCancel != nil {
		out.OnCancel = func() {
			rt.deliver(s, id, "cancel", obs.OnCancel)
		}
	}
	if obs.OnEmit != nil {
		out.OnEmit = func(v any) {
			rt.deliver(s, id, "emit", func(tx *Tx) error { return obs.OnEmit(tx, v) })
		}
	}
	return out
}
