package engine

import (
	"reflect"

	"github.com/roach88/grove/internal/ir"
)

// reconcileRoute brings one route of s in line with its declaration and
// writes the resulting route record. Reports whether the set of attached
// nodes changed.
//
// A route that has never been applied takes its previous occupants from
// the stored record, so children restored from a snapshot are adopted by
// identity instead of being recreated.
func (rt *Runtime) reconcileRoute(s *Scope, offset int, decl *routeDecl) (bool, error) {
	spec := s.schema.Routes[offset]
	prev := s.routes[offset]
	if !prev.applied {
		prev = rt.storedRoute(s, offset)
	}

	var (
		next    appliedRoute
		changed bool
		err     error
	)
	if spec.Kind == ir.RouteList {
		next, changed, err = rt.reconcileList(s, offset, prev, decl)
	} else {
		next, changed, err = rt.reconcileOne(s, prev, decl)
	}
	if err != nil {
		return false, err
	}
	next.applied = true
	s.routes[offset] = next

	rec := ir.RouteRecord{Name: spec.Name, Kind: spec.Kind, Arm: next.arm, Entries: make([]ir.RouteEntry, 0, len(next.children))}
	for _, c := range next.children {
		e := ir.RouteEntry{ID: c.id}
		if spec.Kind == ir.RouteList {
			e.Key = c.key
		}
		rec.Entries = append(rec.Entries, e)
	}
	tc, err := rt.store.SetRouteRecord(ir.RouteField(s.id, offset), rec)
	if err != nil {
		return false, err
	}
	if !tc.Empty() {
		changed = true
	}
	return changed, nil
}

// storedRoute reads a route's occupants from the store for adoption.
func (rt *Runtime) storedRoute(s *Scope, offset int) appliedRoute {
	var out appliedRoute
	rec, ok := rt.store.ReadRoute(ir.RouteField(s.id, offset))
	if !ok {
		return out
	}
	out.arm = rec.Arm
	for _, e := range rec.Entries {
		if _, live := rt.scopes[e.ID]; live {
			continue
		}
		child, ok := rt.store.Record(e.ID)
		if !ok {
			continue
		}
		out.children = append(out.children, appliedChild{key: e.Key, id: e.ID, typ: child.Type, stored: true})
	}
	return out
}

// reconcileOne handles single and union routes. The occupant continues
// when its type, arm and capture are unchanged; otherwise it is replaced.
func (rt *Runtime) reconcileOne(s *Scope, prev appliedRoute, decl *routeDecl) (appliedRoute, bool, error) {
	var want *Child
	arm := 0
	if decl != nil {
		want, arm = decl.child, decl.arm
	}
	if want != nil && want.Node == nil {
		return prev, false, declarationError(s.id, "child declared without a node")
	}

	var cur *appliedChild
	if len(prev.children) > 0 {
		cur = &prev.children[0]
	}

	if want == nil {
		if cur == nil {
			return appliedRoute{}, false, nil
		}
		return appliedRoute{}, true, rt.stopChild(*cur)
	}

	schema := want.Node.Schema()
	if cur != nil {
		same := cur.typ == schema.Type && prev.arm == arm
		if same && !cur.stored {
			same = ir.Equal(capture(cur.capture), capture(want.Capture))
		}
		if same {
			c, err := rt.continueChild(s, *cur, want, schema)
			return appliedRoute{arm: arm, children: []appliedChild{c}}, cur.stored, err
		}
		rt.logger.Debug("child replaced", "node", s.id, "old", cur.id, "type", schema.Type,
			"arm", arm, "capture", captureHash(want.Capture))
		if err := rt.stopChild(*cur); err != nil {
			return appliedRoute{}, true, err
		}
	}

	c, err := rt.startChild(s, rt.ids.NewID(), want, schema)
	return appliedRoute{arm: arm, children: []appliedChild{c}}, true, err
}

// reconcileList handles list routes. Children are matched by key; a
// matched child of a different type is replaced. The resulting order
// follows the declaration. Duplicate keys after the first are ignored.
func (rt *Runtime) reconcileList(s *Scope, offset int, prev appliedRoute, decl *routeDecl) (appliedRoute, bool, error) {
	var wants []Child
	if decl != nil {
		wants = decl.list
	}

	byKey := make(map[string]appliedChild, len(prev.children))
	for _, c := range prev.children {
		byKey[c.key] = c
	}

	type plan struct {
		want   *Child
		schema Schema
		cur    *appliedChild
	}
	plans := make([]plan, 0, len(wants))
	keep := make(map[string]bool, len(wants))
	for i := range wants {
		w := &wants[i]
		if w.Node == nil {
			return prev, false, declarationError(s.id, "list child %q declared without a node", w.Key)
		}
		if keep[w.Key] {
			rt.logger.Warn("duplicate list key ignored", "node", s.id, "route", s.schema.Routes[offset].Name, "key", w.Key)
			continue
		}
		keep[w.Key] = true
		p := plan{want: w, schema: w.Node.Schema()}
		if c, ok := byKey[w.Key]; ok && c.typ == p.schema.Type {
			p.cur = &c
		}
		plans = append(plans, p)
	}

	changed := false
	for _, c := range prev.children {
		if keep[c.key] {
			continue
		}
		changed = true
		if err := rt.stopChild(c); err != nil {
			return prev, true, err
		}
	}
	for _, p := range plans {
		c, ok := byKey[p.want.Key]
		if ok && p.cur == nil {
			changed = true
			if err := rt.stopChild(c); err != nil {
				return prev, true, err
			}
		}
	}

	next := appliedRoute{children: make([]appliedChild, 0, len(plans))}
	for _, p := range plans {
		var (
			c   appliedChild
			err error
		)
		if p.cur != nil {
			if p.cur.stored {
				changed = true
			}
			c, err = rt.continueChild(s, *p.cur, p.want, p.schema)
		} else {
			changed = true
			c, err = rt.startChild(s, listChildID(s.id, offset, p.schema.Type, p.want.Key), p.want, p.schema)
		}
		if err != nil {
			return next, true, err
		}
		next.children = append(next.children, c)
	}
	return next, changed, nil
}

// startChild creates the record and scope for a newly declared child.
func (rt *Runtime) startChild(parent *Scope, id ir.NodeID, want *Child, schema Schema) (appliedChild, error) {
	if err := schema.Validate(); err != nil {
		return appliedChild{}, &RuntimeError{Code: ErrCodeDeclaration, Message: "invalid schema", Node: parent.id, Err: err}
	}
	if id == ir.RootID || !id.Valid() {
		return appliedChild{}, declarationError(parent.id, "id generator returned reserved id %q", id)
	}
	rec := schema.record(id)
	for name, v := range want.Init {
		off, ok := schema.ValueOffset(name)
		if !ok {
			return appliedChild{}, unknownFieldError(id, name)
		}
		if v == nil {
			v = ir.IRNull{}
		}
		rec.Values[off].Value = ir.Clone(v)
	}
	if err := rt.store.AddRecord(rec); err != nil {
		return appliedChild{}, err
	}
	sc := rt.newScope(id, want.Node, schema, parent, want.Env)
	rt.markDirty(sc)
	rt.logger.Debug("node attached", "node", id, "type", schema.Type, "parent", parent.id)
	return appliedChild{key: want.Key, id: id, typ: schema.Type, capture: capture(want.Capture)}, nil
}

// continueChild keeps an occupant. A stored occupant is adopted: its
// record is normalized against the schema and a scope is created over it.
// A live occupant is updated in place and re-evaluated only if its
// configuration changed.
func (rt *Runtime) continueChild(parent *Scope, cur appliedChild, want *Child, schema Schema) (appliedChild, error) {
	out := appliedChild{key: want.Key, id: cur.id, typ: schema.Type, capture: capture(want.Capture)}
	if cur.stored {
		if err := rt.adopt(parent, cur.id, want, schema); err != nil {
			return out, err
		}
		return out, nil
	}
	sc, ok := rt.scopes[cur.id]
	if !ok {
		return out, &RuntimeError{Code: ErrCodeInconsistent, Message: "attached child has no scope", Node: cur.id}
	}
	if !reflect.DeepEqual(sc.node, want.Node) || !reflect.DeepEqual(sc.env, want.Env) {
		rt.touchScope(sc)
		sc.node = want.Node
		sc.env = want.Env
		rt.markDirty(sc)
	}
	return out, nil
}

// adopt creates a scope over a restored record.
func (rt *Runtime) adopt(parent *Scope, id ir.NodeID, want *Child, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return &RuntimeError{Code: ErrCodeDeclaration, Message: "invalid schema", Node: parent.id, Err: err}
	}
	if err := rt.normalizeRecord(id, schema); err != nil {
		return err
	}
	sc := rt.newScope(id, want.Node, schema, parent, want.Env)
	rt.markDirty(sc)
	rt.logger.Debug("node adopted", "node", id, "type", schema.Type, "parent", parent.id)
	return nil
}

// normalizeRecord rewrites a stored record to match schema and removes the
// subtrees of any routes the schema no longer declares.
func (rt *Runtime) normalizeRecord(id ir.NodeID, schema Schema) error {
	stored, ok := rt.store.Record(id)
	if !ok {
		return &RuntimeError{Code: ErrCodeInconsistent, Message: "adopted node has no record", Node: id}
	}
	rec, dropped := schema.normalize(stored)
	if err := rt.store.ReplaceRecord(rec); err != nil {
		return err
	}
	for _, d := range dropped {
		rt.removeStored(d)
	}
	return nil
}

func captureHash(v ir.IRValue) string {
	h, err := ir.CaptureHash(capture(v))
	if err != nil {
		return "invalid"
	}
	return h
}

func capture(v ir.IRValue) ir.IRValue {
	if v == nil {
		return ir.IRNull{}
	}
	return v
}
