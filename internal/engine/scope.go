package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/grove/internal/ir"
)

// Scope is the runtime's live counterpart of one attached node: the
// current Node value, the applied routes, the reconciled effects and the
// set of fields the last evaluation read.
type Scope struct {
	id     ir.NodeID
	serial int64
	node   Node
	schema Schema
	parent *Scope
	depth  int
	env    map[string]any

	routes  []appliedRoute
	effects map[string]*effectState
	order   []string
	claims  map[string]ClaimFunc
	deps    []ir.FieldID

	evaluated bool
	disposed  bool
}

// appliedRoute is what a route currently holds. An unapplied route has not
// been reconciled since its scope was created; its children, if any, come
// from a restored record and have no scopes yet.
type appliedRoute struct {
	applied  bool
	arm      int
	children []appliedChild
}

type appliedChild struct {
	key     string
	id      ir.NodeID
	typ     string
	capture ir.IRValue
	stored  bool
}

func (r appliedRoute) clone() appliedRoute {
	r.children = slices.Clone(r.children)
	return r
}

// owner is the supervisor key for behaviors started by this scope
// instance.
func (s *Scope) owner() string {
	return fmt.Sprintf("%s#%d", s.id, s.serial)
}

// lookupEnv walks the scope chain towards the root.
func (s *Scope) lookupEnv(key string) (any, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.env[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// childIDs returns the ids of every child across all routes, in route then
// entry order.
func (s *Scope) childIDs() []ir.NodeID {
	var ids []ir.NodeID
	for _, r := range s.routes {
		for _, c := range r.children {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// scopeSave is the pre-image of a scope's mutable fields.
type scopeSave struct {
	node      Node
	env       map[string]any
	routes    []appliedRoute
	effects   map[string]*effectState
	order     []string
	claims    map[string]ClaimFunc
	deps      []ir.FieldID
	evaluated bool
	disposed  bool
}

func (s *Scope) save() *scopeSave {
	routes := make([]appliedRoute, len(s.routes))
	for i, r := range s.routes {
		routes[i] = r.clone()
	}
	return &scopeSave{
		node:      s.node,
		env:       s.env,
		routes:    routes,
		effects:   maps.Clone(s.effects),
		order:     slices.Clone(s.order),
		claims:    s.claims,
		deps:      s.deps,
		evaluated: s.evaluated,
		disposed:  s.disposed,
	}
}

func (s *Scope) restore(sv *scopeSave) {
	s.node = sv.node
	s.env = sv.env
	s.routes = sv.routes
	s.effects = sv.effects
	s.order = sv.order
	s.claims = sv.claims
	s.deps = sv.deps
	s.evaluated = sv.evaluated
	s.disposed = sv.disposed
}

// newScope creates and registers a scope for a record already in the
// store.
func (rt *Runtime) newScope(id ir.NodeID, n Node, schema Schema, parent *Scope, env map[string]any) *Scope {
	s := &Scope{
		id:      id,
		serial:  rt.clock.Tick(),
		node:    n,
		schema:  schema,
		parent:  parent,
		env:     env,
		routes:  make([]appliedRoute, len(schema.Routes)),
		effects: make(map[string]*effectState),
	}
	if parent != nil {
		s.depth = parent.depth + 1
	}
	rt.scopes[id] = s
	if rt.txn != nil {
		rt.txn.created = append(rt.txn.created, s)
	}
	return s
}

// touchScope records the pre-image of s for rollback.
func (rt *Runtime) touchScope(s *Scope) {
	if rt.txn == nil {
		return
	}
	if _, ok := rt.txn.saved[s]; ok {
		return
	}
	rt.txn.saved[s] = s.save()
}

// setDeps replaces the fields s depends on and updates the reverse index.
func (rt *Runtime) setDeps(s *Scope, deps []ir.FieldID) {
	rt.dropDeps(s)
	s.deps = deps
	for _, f := range deps {
		set := rt.readers[f]
		if set == nil {
			set = make(map[*Scope]struct{})
			rt.readers[f] = set
		}
		set[s] = struct{}{}
	}
}

func (rt *Runtime) dropDeps(s *Scope) {
	for _, f := range s.deps {
		if set := rt.readers[f]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(rt.readers, f)
			}
		}
	}
}

// rebuildReaders recomputes the reverse dependency index from the live
// scopes.
func (rt *Runtime) rebuildReaders() {
	rt.readers = make(map[ir.FieldID]map[*Scope]struct{})
	for _, s := range rt.scopes {
		deps := s.deps
		s.deps = nil
		rt.setDeps(s, deps)
	}
}

// dispose tears down s and its subtree: children first, then s's own stop
// effects, then its behaviors and record.
func (rt *Runtime) dispose(s *Scope) error {
	if s.disposed {
		return nil
	}
	rt.touchScope(s)

	for i := len(s.routes) - 1; i >= 0; i-- {
		children := s.routes[i].children
		for j := len(children) - 1; j >= 0; j-- {
			if err := rt.stopChild(children[j]); err != nil {
				return err
			}
		}
	}
	for _, key := range s.order {
		eff := s.effects[key]
		if eff.kind != effectStop {
			continue
		}
		if err := rt.runHandler(s, eff.fn, "stop effect "+eff.id); err != nil {
			return err
		}
	}

	rt.txn.cancelOwners = append(rt.txn.cancelOwners, s.owner())
	rt.dropDeps(s)
	delete(rt.txn.dirty, s)
	if rt.store.Has(s.id) {
		if err := rt.store.RemoveRecord(s.id); err != nil {
			return err
		}
	}
	if rt.scopes[s.id] == s {
		delete(rt.scopes, s.id)
	}
	s.disposed = true
	rt.logger.Debug("node detached", "node", s.id, "type", s.schema.Type)
	return nil
}

// stopChild detaches one applied child.
func (rt *Runtime) stopChild(c appliedChild) error {
	if c.stored {
		rt.removeStored(c.id)
		return nil
	}
	if sc, ok := rt.scopes[c.id]; ok {
		return rt.dispose(sc)
	}
	return nil
}

// removeStored deletes a restored record that was never adopted, together
// with every record beneath it.
func (rt *Runtime) removeStored(id ir.NodeID) {
	if _, live := rt.scopes[id]; live {
		return
	}
	rec, ok := rt.store.Record(id)
	if !ok {
		return
	}
	for _, child := range rec.Children() {
		rt.removeStored(child)
	}
	_ = rt.store.RemoveRecord(id)
}
