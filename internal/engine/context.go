package engine

import "github.com/roach88/grove/internal/ir"

// Context is handed to Node.Rules. Reads through it register the fields
// the node depends on; declarations through it describe the node's
// desired routes, effects and intent claims.
//
// A Context is only valid during the Rules call it was passed to.
type Context struct {
	rt    *Runtime
	scope *Scope

	deps    []ir.FieldID
	seen    map[ir.FieldID]bool
	routes  map[int]*routeDecl
	effects []effectDecl
	claims  map[string]ClaimFunc
	errs    []error
}

type routeDecl struct {
	arm   int
	child *Child
	list  []Child
}

func newContext(rt *Runtime, s *Scope) *Context {
	return &Context{
		rt:     rt,
		scope:  s,
		seen:   make(map[ir.FieldID]bool),
		routes: make(map[int]*routeDecl),
		claims: make(map[string]ClaimFunc),
	}
}

// ID returns the evaluated node's id.
func (c *Context) ID() ir.NodeID { return c.scope.id }

// Node returns the evaluated node's current configuration.
func (c *Context) Node() Node { return c.scope.node }

// Env returns the nearest environment entry for key.
func (c *Context) Env(key string) (any, bool) { return c.scope.lookupEnv(key) }

// Get reads the named value field of the evaluated node.
func (c *Context) Get(name string) ir.IRValue {
	off, ok := c.scope.schema.ValueOffset(name)
	if !ok {
		c.fail(unknownFieldError(c.scope.id, name))
		return ir.IRNull{}
	}
	v, _ := c.Read(ir.ValueField(c.scope.id, off))
	return v
}

// Int reads the named field as an integer. Non-integer values read as 0.
func (c *Context) Int(name string) int64 {
	v, _ := c.Get(name).(ir.IRInt)
	return int64(v)
}

// String reads the named field as a string.
func (c *Context) String(name string) string {
	v, _ := c.Get(name).(ir.IRString)
	return string(v)
}

// Bool reads the named field as a boolean.
func (c *Context) Bool(name string) bool {
	v, _ := c.Get(name).(ir.IRBool)
	return bool(v)
}

// Read reads any field in the tree and registers the dependency. Reading a
// field of a node that does not exist yields (IRNull, false); the
// dependency is still registered so the reader is re-evaluated if the
// field appears later.
func (c *Context) Read(f ir.FieldID) (ir.IRValue, bool) {
	if !c.seen[f] {
		c.seen[f] = true
		c.deps = append(c.deps, f)
	}
	v, ok := c.rt.store.Read(f)
	if !ok {
		return ir.IRNull{}, false
	}
	return v, true
}

// Field resolves a named value field of another live node.
func (c *Context) Field(node ir.NodeID, name string) (ir.FieldID, bool) {
	f, err := c.rt.fieldOf(node, name)
	return f, err == nil
}

// Route declares the occupant of a single route. A nil child leaves the
// route empty.
func (c *Context) Route(name string, child *Child) {
	c.declare(name, ir.RouteSingle, &routeDecl{child: child})
}

// Union declares the occupant of a union route and the arm it sits in.
func (c *Context) Union(name string, arm int, child *Child) {
	off, ok := c.scope.schema.RouteOffset(name)
	if !ok {
		c.fail(declarationError(c.scope.id, "no route named %q", name))
		return
	}
	kind := c.scope.schema.Routes[off].Kind
	if kind != ir.RouteUnion2 && kind != ir.RouteUnion3 {
		c.fail(declarationError(c.scope.id, "route %q is %s, declared as union", name, kind))
		return
	}
	if arm < 0 || arm >= kind.Arity() {
		c.fail(declarationError(c.scope.id, "route %q: arm %d out of range for %s", name, arm, kind))
		return
	}
	c.declare(name, kind, &routeDecl{arm: arm, child: child})
}

// List declares the ordered, keyed occupants of a list route.
func (c *Context) List(name string, children ...Child) {
	c.declare(name, ir.RouteList, &routeDecl{list: children})
}

func (c *Context) declare(name string, kind ir.RouteKind, d *routeDecl) {
	off, ok := c.scope.schema.RouteOffset(name)
	if !ok {
		c.fail(declarationError(c.scope.id, "no route named %q", name))
		return
	}
	if got := c.scope.schema.Routes[off].Kind; got != kind {
		c.fail(declarationError(c.scope.id, "route %q is %s, declared as %s", name, got, kind))
		return
	}
	if _, dup := c.routes[off]; dup {
		c.fail(declarationError(c.scope.id, "route %q declared twice", name))
		return
	}
	c.routes[off] = d
}

// OnStart declares an effect that runs once when first declared.
func (c *Context) OnStart(id string, fn Handler) {
	c.effects = append(c.effects, effectDecl{kind: effectStart, id: id, fn: fn})
}

// OnStop declares an effect that runs when it stops being declared or the
// node is detached.
func (c *Context) OnStop(id string, fn Handler) {
	c.effects = append(c.effects, effectDecl{kind: effectStop, id: id, fn: fn})
}

// OnChange declares an effect that runs whenever value differs from the
// value declared by the previous evaluation. It does not run on the first
// evaluation that declares it.
func (c *Context) OnChange(id string, value ir.IRValue, fn Handler) {
	if value == nil {
		value = ir.IRNull{}
	}
	c.effects = append(c.effects, effectDecl{kind: effectChange, id: id, value: value, fn: fn})
}

// OnIntent declares that this node may resolve intent steps named step.
func (c *Context) OnIntent(step string, fn ClaimFunc) {
	if step == "" {
		c.fail(declarationError(c.scope.id, "intent claim with empty step name"))
		return
	}
	c.claims[step] = fn
}

// Errorf records a declaration error. The evaluation, and the write it
// belongs to, fail.
func (c *Context) Errorf(format string, args ...any) {
	c.fail(declarationError(c.scope.id, format, args...))
}

func (c *Context) fail(err error) {
	c.errs = append(c.errs, err)
}
