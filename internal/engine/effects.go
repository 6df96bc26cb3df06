package engine

import "github.com/roach88/grove/internal/ir"

type effectKind int

const (
	effectStart effectKind = iota + 1
	effectStop
	effectChange
)

func (k effectKind) String() string {
	switch k {
	case effectStart:
		return "start"
	case effectStop:
		return "stop"
	case effectChange:
		return "change"
	default:
		return "unknown"
	}
}

type effectDecl struct {
	kind  effectKind
	id    string
	value ir.IRValue
	fn    Handler
}

type effectState struct {
	kind  effectKind
	id    string
	value ir.IRValue
	fn    Handler
}

func (d effectDecl) key() string {
	return d.kind.String() + ":" + d.id
}

// queuedEffect is a handler due to run once the current evaluation ends.
type queuedEffect struct {
	scope *Scope
	label string
	fn    Handler
}

// reconcileEffects diffs the effects declared by an evaluation against the
// previous evaluation's and queues the handlers that are due. Handlers of
// the latest declaration replace older ones so closures see fresh state.
func (rt *Runtime) reconcileEffects(s *Scope, decls []effectDecl) error {
	next := make(map[string]*effectState, len(decls))
	order := make([]string, 0, len(decls))

	for _, d := range decls {
		if d.id == "" {
			return declarationError(s.id, "%s effect with empty id", d.kind)
		}
		key := d.key()
		if _, dup := next[key]; dup {
			return declarationError(s.id, "%s effect %q declared twice", d.kind, d.id)
		}
		prev := s.effects[key]
		switch d.kind {
		case effectStart:
			if prev == nil {
				rt.queueEffect(s, "start effect "+d.id, d.fn)
			}
		case effectChange:
			if prev != nil && !ir.Equal(prev.value, d.value) {
				rt.queueEffect(s, "change effect "+d.id, d.fn)
			}
		}
		next[key] = &effectState{kind: d.kind, id: d.id, value: ir.Clone(d.value), fn: d.fn}
		order = append(order, key)
	}

	for _, key := range s.order {
		if _, still := next[key]; still {
			continue
		}
		if prev := s.effects[key]; prev.kind == effectStop {
			rt.queueEffect(s, "stop effect "+prev.id, prev.fn)
		}
	}

	s.effects = next
	s.order = order
	return nil
}

func (rt *Runtime) queueEffect(s *Scope, label string, fn Handler) {
	if fn == nil {
		return
	}
	rt.txn.effects = append(rt.txn.effects, queuedEffect{scope: s, label: label, fn: fn})
}
