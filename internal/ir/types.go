package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// NodeID identifies one live node instance. IDs are opaque strings ordered
// lexically; snapshots list nodes in that order.
type NodeID string

const (
	// RootID is the identity of every tree's root node.
	RootID NodeID = "root"

	// InvalidID marks an unset reference.
	InvalidID NodeID = ""
)

// Valid reports whether id is set.
func (id NodeID) Valid() bool { return id != InvalidID }

// Compare orders NodeIDs lexically.
func (id NodeID) Compare(other NodeID) int {
	return strings.Compare(string(id), string(other))
}

// FieldKind distinguishes value slots from route slots inside a record.
type FieldKind string

const (
	ValueSlot FieldKind = "value"
	RouteSlot FieldKind = "route"
)

// FieldID addresses one slot in a node record. Offsets are per kind and
// follow declaration order in the node's schema.
type FieldID struct {
	Node   NodeID    `json:"node"`
	Offset int       `json:"offset"`
	Kind   FieldKind `json:"kind"`
}

// ValueField addresses the value slot at offset on node.
func ValueField(node NodeID, offset int) FieldID {
	return FieldID{Node: node, Offset: offset, Kind: ValueSlot}
}

// RouteField addresses the route slot at offset on node.
func RouteField(node NodeID, offset int) FieldID {
	return FieldID{Node: node, Offset: offset, Kind: RouteSlot}
}

func (f FieldID) String() string {
	return fmt.Sprintf("%s/%s/%d", f.Node, f.Kind, f.Offset)
}

// RouteKind is the tag of a RouteRecord.
type RouteKind string

const (
	RouteSingle RouteKind = "single"
	RouteUnion2 RouteKind = "union2"
	RouteUnion3 RouteKind = "union3"
	RouteList   RouteKind = "list"
)

// Arity returns the number of arms for union kinds and 1 otherwise.
func (k RouteKind) Arity() int {
	switch k {
	case RouteUnion2:
		return 2
	case RouteUnion3:
		return 3
	default:
		return 1
	}
}

// ValidRouteKinds lists the accepted route tags.
var ValidRouteKinds = map[RouteKind]bool{
	RouteSingle: true,
	RouteUnion2: true,
	RouteUnion3: true,
	RouteList:   true,
}

// RouteEntry is one attached child. Key is set only for list routes.
type RouteEntry struct {
	ID  NodeID `json:"id"`
	Key string `json:"key,omitempty"`
}

// RouteRecord records which children currently occupy a route slot.
//
// single and union routes hold at most one entry; Arm selects the union arm
// of that entry. list routes hold entries in declared order.
type RouteRecord struct {
	Name    string       `json:"name"`
	Kind    RouteKind    `json:"kind"`
	Arm     int          `json:"arm,omitempty"`
	Entries []RouteEntry `json:"entries"`
}

// IDs returns the child ids in route order.
func (r RouteRecord) IDs() []NodeID {
	ids := make([]NodeID, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Empty reports whether no child is attached.
func (r RouteRecord) Empty() bool { return len(r.Entries) == 0 }

// Equal compares two route records including entry order.
func (r RouteRecord) Equal(other RouteRecord) bool {
	return r.Name == other.Name && r.Kind == other.Kind && r.Arm == other.Arm &&
		slices.Equal(r.Entries, other.Entries)
}

// Clone returns a copy that shares no slices with r.
func (r RouteRecord) Clone() RouteRecord {
	out := r
	out.Entries = slices.Clone(r.Entries)
	if out.Entries == nil {
		out.Entries = []RouteEntry{}
	}
	return out
}

// FieldValue is one named value slot. The name lets a restore match stored
// values against a schema that has since gained or lost fields.
type FieldValue struct {
	Name  string  `json:"name"`
	Value IRValue `json:"value"`
}

// NodeRecord is the serializable state of one node. Values and Routes are
// indexed by FieldID offset.
type NodeRecord struct {
	ID     NodeID        `json:"id"`
	Type   string        `json:"type"`
	Values []FieldValue  `json:"values"`
	Routes []RouteRecord `json:"routes"`
}

// Clone returns a deep copy of the record.
func (n NodeRecord) Clone() NodeRecord {
	out := NodeRecord{ID: n.ID, Type: n.Type}
	out.Values = make([]FieldValue, len(n.Values))
	for i, v := range n.Values {
		out.Values[i] = FieldValue{Name: v.Name, Value: Clone(v.Value)}
	}
	out.Routes = make([]RouteRecord, len(n.Routes))
	for i, r := range n.Routes {
		out.Routes[i] = r.Clone()
	}
	return out
}

// Equal reports whether two records hold identical state.
func (n NodeRecord) Equal(other NodeRecord) bool {
	if n.ID != other.ID || n.Type != other.Type ||
		len(n.Values) != len(other.Values) || len(n.Routes) != len(other.Routes) {
		return false
	}
	for i := range n.Values {
		if n.Values[i].Name != other.Values[i].Name || !Equal(n.Values[i].Value, other.Values[i].Value) {
			return false
		}
	}
	for i := range n.Routes {
		if !n.Routes[i].Equal(other.Routes[i]) {
			return false
		}
	}
	return true
}

// Children returns every child id across all routes, in route order.
func (n NodeRecord) Children() []NodeID {
	var ids []NodeID
	for _, r := range n.Routes {
		ids = append(ids, r.IDs()...)
	}
	return ids
}

// UnmarshalJSON decodes a FieldValue, routing the value through the IR decoder.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string  `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	if len(raw.Value) == 0 {
		f.Value = IRNull{}
		return nil
	}
	v, err := UnmarshalIRValue(raw.Value)
	if err != nil {
		return fmt.Errorf("field %q: %w", raw.Name, err)
	}
	f.Value = v
	return nil
}

// MarshalJSON encodes a FieldValue with its value in IR form.
func (f FieldValue) MarshalJSON() ([]byte, error) {
	val, err := MarshalIRValue(f.Value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	name, err := json.Marshal(f.Name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(name)+len(val)+20)
	out = append(out, `{"name":`...)
	out = append(out, name...)
	out = append(out, `,"value":`...)
	out = append(out, val...)
	out = append(out, '}')
	return out, nil
}

// Step is one named element of an intent. Payload is opaque to the runtime.
type Step struct {
	Name    string `json:"name"`
	Payload []byte `json:"payload,omitempty"`
}

// IntentRecord is the pending intent carried in a snapshot. From is the node
// the resolver resumes its search at.
type IntentRecord struct {
	Steps []Step `json:"steps"`
	From  NodeID `json:"from,omitempty"`
}

// Clone copies the record and its step payloads.
func (r *IntentRecord) Clone() *IntentRecord {
	if r == nil {
		return nil
	}
	out := &IntentRecord{From: r.From, Steps: make([]Step, len(r.Steps))}
	for i, s := range r.Steps {
		out.Steps[i] = Step{Name: s.Name, Payload: slices.Clone(s.Payload)}
	}
	return out
}

// TreeStateRecord is a full serializable tree: every node record sorted by
// id, the root id, and the pending intent if any.
type TreeStateRecord struct {
	Version string        `json:"version"`
	Root    NodeID        `json:"root"`
	Nodes   []NodeRecord  `json:"nodes"`
	Intent  *IntentRecord `json:"intent,omitempty"`
}

// Node returns the record for id, or false.
func (t TreeStateRecord) Node(id NodeID) (NodeRecord, bool) {
	i, found := slices.BinarySearchFunc(t.Nodes, id, func(n NodeRecord, target NodeID) int {
		return n.ID.Compare(target)
	})
	if found {
		return t.Nodes[i], true
	}
	// Unsorted input still resolves; Validate reports the ordering problem.
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeRecord{}, false
}

// Clone returns a deep copy.
func (t TreeStateRecord) Clone() TreeStateRecord {
	out := TreeStateRecord{Version: t.Version, Root: t.Root, Intent: t.Intent.Clone()}
	out.Nodes = make([]NodeRecord, len(t.Nodes))
	for i, n := range t.Nodes {
		out.Nodes[i] = n.Clone()
	}
	return out
}

// Equal compares two snapshots structurally.
func (t TreeStateRecord) Equal(other TreeStateRecord) bool {
	if t.Version != other.Version || t.Root != other.Root || len(t.Nodes) != len(other.Nodes) {
		return false
	}
	for i := range t.Nodes {
		if !t.Nodes[i].Equal(other.Nodes[i]) {
			return false
		}
	}
	switch {
	case t.Intent == nil && other.Intent == nil:
		return true
	case t.Intent == nil || other.Intent == nil:
		return false
	}
	if t.Intent.From != other.Intent.From || len(t.Intent.Steps) != len(other.Intent.Steps) {
		return false
	}
	for i, s := range t.Intent.Steps {
		o := other.Intent.Steps[i]
		if s.Name != o.Name || !slices.Equal(s.Payload, o.Payload) {
			return false
		}
	}
	return true
}

// SortNodes orders Nodes by id in place.
func (t *TreeStateRecord) SortNodes() {
	slices.SortFunc(t.Nodes, func(a, b NodeRecord) int { return a.ID.Compare(b.ID) })
}
