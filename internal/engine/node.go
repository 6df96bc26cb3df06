package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/ir"
)

// Node is the authoring unit of a tree. A Node value is the node's
// configuration; its state lives in the store under the fields declared by
// Schema.
//
// Rules runs every time the node is evaluated. It reads state through c
// and declares the node's children, effects and intent claims from that
// state. Rules must be a pure function of what it reads.
type Node interface {
	Schema() Schema
	Rules(c *Context)
}

// Schema declares a node type: its state fields and its routes. Field
// offsets are positions in Values and Routes.
type Schema struct {
	Type   string
	Values []ValueSpec
	Routes []RouteSpec
}

// ValueSpec declares one value field and its initial value. A non-null
// default also fixes the field's kind when a snapshot is restored.
type ValueSpec struct {
	Name    string
	Default ir.IRValue
}

// RouteSpec declares one route.
type RouteSpec struct {
	Name string
	Kind ir.RouteKind
}

// Value is shorthand for a ValueSpec.
func Value(name string, def ir.IRValue) ValueSpec {
	return ValueSpec{Name: name, Default: def}
}

// Route is shorthand for a RouteSpec.
func Route(name string, kind ir.RouteKind) RouteSpec {
	return RouteSpec{Name: name, Kind: kind}
}

// Validate checks the schema for structural errors.
func (s Schema) Validate() error {
	var errs []error
	if s.Type == "" {
		errs = append(errs, errors.New("empty node type"))
	}
	seen := make(map[string]bool)
	for _, v := range s.Values {
		if v.Name == "" {
			errs = append(errs, errors.New("value field with empty name"))
		}
		if seen["v:"+v.Name] {
			errs = append(errs, fmt.Errorf("duplicate value field %q", v.Name))
		}
		seen["v:"+v.Name] = true
	}
	for _, r := range s.Routes {
		if r.Name == "" {
			errs = append(errs, errors.New("route with empty name"))
		}
		if !ir.ValidRouteKinds[r.Kind] {
			errs = append(errs, fmt.Errorf("route %q: unknown kind %q", r.Name, r.Kind))
		}
		if seen["r:"+r.Name] {
			errs = append(errs, fmt.Errorf("duplicate route %q", r.Name))
		}
		seen["r:"+r.Name] = true
	}
	return errors.Join(errs...)
}

// ValueOffset returns the offset of the named value field.
func (s Schema) ValueOffset(name string) (int, bool) {
	for i, v := range s.Values {
		if v.Name == name {
			return i, true
		}
	}
	return 0, false
}

// RouteOffset returns the offset of the named route.
func (s Schema) RouteOffset(name string) (int, bool) {
	for i, r := range s.Routes {
		if r.Name == name {
			return i, true
		}
	}
	return 0, false
}

// record builds the initial record for a node of this schema.
func (s Schema) record(id ir.NodeID) ir.NodeRecord {
	rec := ir.NodeRecord{
		ID:     id,
		Type:   s.Type,
		Values: make([]ir.FieldValue, len(s.Values)),
		Routes: make([]ir.RouteRecord, len(s.Routes)),
	}
	for i, v := range s.Values {
		rec.Values[i] = ir.FieldValue{Name: v.Name, Value: defaultValue(v)}
	}
	for i, r := range s.Routes {
		rec.Routes[i] = ir.RouteRecord{Name: r.Name, Kind: r.Kind, Entries: []ir.RouteEntry{}}
	}
	return rec
}

func defaultValue(v ValueSpec) ir.IRValue {
	if v.Default == nil {
		return ir.IRNull{}
	}
	return ir.Clone(v.Default)
}

// normalize reconciles a stored record with the schema. Values are matched
// by name and kept when their kind agrees with the declared default (any
// kind is accepted for a null default). Routes are matched by name and
// kind. Everything else takes the schema's initial value. Returns the ids
// referenced by stored routes that were dropped.
func (s Schema) normalize(stored ir.NodeRecord) (ir.NodeRecord, []ir.NodeID) {
	out := s.record(stored.ID)

	byName := make(map[string]ir.IRValue, len(stored.Values))
	for _, fv := range stored.Values {
		byName[fv.Name] = fv.Value
	}
	for i, spec := range s.Values {
		v, ok := byName[spec.Name]
		if !ok {
			continue
		}
		want := ir.KindOf(defaultValue(spec))
		if want == ir.KindNull || ir.KindOf(v) == want {
			out.Values[i].Value = ir.Clone(v)
		}
	}

	kept := make(map[string]bool)
	for i, spec := range s.Routes {
		for _, r := range stored.Routes {
			if r.Name == spec.Name && r.Kind == spec.Kind {
				out.Routes[i] = r.Clone()
				kept[r.Name] = true
				break
			}
		}
	}
	var dropped []ir.NodeID
	for _, r := range stored.Routes {
		if !kept[r.Name] {
			dropped = append(dropped, r.IDs()...)
		}
	}
	return out, dropped
}

// Child declares a node to occupy a route.
type Child struct {
	// Node is the child's configuration. A change of type replaces the
	// child; any other change updates it in place.
	Node Node

	// Key identifies the child within a list route. Unused elsewhere.
	Key string

	// Capture is identity-bearing configuration: when it differs from the
	// value seen when the child was attached, the child is replaced rather
	// than updated.
	Capture ir.IRValue

	// Init overrides value field defaults when the child is created.
	Init map[string]ir.IRValue

	// Env adds environment entries visible to the child and its subtree.
	Env map[string]any
}

// C is shorthand for a Child holding only a node.
func C(n Node) *Child {
	return &Child{Node: n}
}

// Keyed is shorthand for a list child.
func Keyed(key string, n Node) Child {
	return Child{Node: n, Key: key}
}
