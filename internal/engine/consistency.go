package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/grove/internal/ir"
)

// checkConsistency verifies that the scope graph and the store agree:
// every record has a scope, every route entry names a live child of the
// route's owner, and nothing is left dirty.
func (rt *Runtime) checkConsistency() error {
	inconsistent := func(node ir.NodeID, format string, args ...any) error {
		return &RuntimeError{Code: ErrCodeInconsistent, Message: fmt.Sprintf(format, args...), Node: node}
	}

	if n := len(rt.txn.dirty); n > 0 {
		return inconsistent(ir.InvalidID, "%d nodes still dirty", n)
	}
	for _, id := range rt.store.IDs() {
		if _, ok := rt.scopes[id]; !ok {
			return inconsistent(id, "record without a live node")
		}
	}

	for id, s := range rt.scopes {
		rec, ok := rt.store.Record(id)
		if !ok {
			return inconsistent(id, "live node without a record")
		}
		if rec.Type != s.schema.Type {
			return inconsistent(id, "record type %q, node type %q", rec.Type, s.schema.Type)
		}
		if (s.parent == nil) != (id == ir.RootID) {
			return inconsistent(id, "parent link does not match root status")
		}
		for offset, r := range rec.Routes {
			for _, child := range r.IDs() {
				cs, ok := rt.scopes[child]
				if !ok {
					return &RuntimeError{
						Code:    ErrCodeDanglingRoute,
						Message: fmt.Sprintf("route %q references %s", r.Name, child),
						Node:    id,
						Details: map[string]string{"route": r.Name, "child": string(child)},
					}
				}
				if cs.parent != s {
					return inconsistent(child, "attached under %s but parent link differs", id)
				}
			}
			applied := s.routes[offset]
			if !applied.applied {
				return inconsistent(id, "route %q never reconciled", r.Name)
			}
			want := make([]ir.NodeID, len(applied.children))
			for i, c := range applied.children {
				want[i] = c.id
			}
			if !slices.Equal(want, r.IDs()) {
				return inconsistent(id, "route %q record disagrees with attached children", r.Name)
			}
		}
	}
	return nil
}
