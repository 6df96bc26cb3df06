package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/grove/internal/ir"
)

var (
	// ErrRecordNotFound is returned when a FieldID or NodeID names no record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned by AddRecord for an id already present.
	ErrRecordExists = errors.New("record already exists")

	// ErrFieldOutOfRange is returned when a FieldID offset exceeds the record.
	ErrFieldOutOfRange = errors.New("field offset out of range")

	// ErrFieldKind is returned when a value op targets a route slot or the reverse.
	ErrFieldKind = errors.New("wrong field kind")
)

// TreeChanges is the membership delta produced by SetRouteRecord.
type TreeChanges struct {
	Added   []ir.NodeID
	Removed []ir.NodeID
}

// Empty reports whether membership did not change.
func (c TreeChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Store is the flat NodeID → NodeRecord state map.
// It is not safe for concurrent use; the runtime serializes access.
type Store struct {
	records map[ir.NodeID]*ir.NodeRecord
	journal *journal
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[ir.NodeID]*ir.NodeRecord)}
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Has reports whether a record exists for id.
func (s *Store) Has(id ir.NodeID) bool {
	_, ok := s.records[id]
	return ok
}

// IDs returns every record id in NodeID order.
func (s *Store) IDs() []ir.NodeID {
	ids := make([]ir.NodeID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ir.NodeID.Compare)
	return ids
}

// Record returns a copy of the record for id.
func (s *Store) Record(id ir.NodeID) (ir.NodeRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return ir.NodeRecord{}, false
	}
	return rec.Clone(), true
}

// Read returns a copy of the value stored at a value field.
func (s *Store) Read(f ir.FieldID) (ir.IRValue, bool) {
	rec, ok := s.records[f.Node]
	if !ok || f.Kind != ir.ValueSlot || f.Offset < 0 || f.Offset >= len(rec.Values) {
		return nil, false
	}
	return ir.Clone(rec.Values[f.Offset].Value), true
}

// ReadRoute returns a copy of the route record at a route field.
func (s *Store) ReadRoute(f ir.FieldID) (ir.RouteRecord, bool) {
	rec, ok := s.records[f.Node]
	if !ok || f.Kind != ir.RouteSlot || f.Offset < 0 || f.Offset >= len(rec.Routes) {
		return ir.RouteRecord{}, false
	}
	return rec.Routes[f.Offset].Clone(), true
}

// Write stores v at a value field. Writing a value equal to the current one
// is a no-op and reports changed=false.
func (s *Store) Write(f ir.FieldID, v ir.IRValue) (bool, error) {
	rec, err := s.field(f, ir.ValueSlot)
	if err != nil {
		return false, fmt.Errorf("write %s: %w", f, err)
	}
	if v == nil {
		v = ir.IRNull{}
	}
	if ir.Equal(rec.Values[f.Offset].Value, v) {
		return false, nil
	}
	s.touch(f.Node)
	rec.Values[f.Offset].Value = ir.Clone(v)
	return true, nil
}

// AddRecord inserts a new record.
func (s *Store) AddRecord(rec ir.NodeRecord) error {
	if !rec.ID.Valid() {
		return fmt.Errorf("add record: invalid node id")
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("add record %s: %w", rec.ID, ErrRecordExists)
	}
	s.touch(rec.ID)
	cp := rec.Clone()
	s.records[rec.ID] = &cp
	return nil
}

// ReplaceRecord overwrites an existing record wholesale. Restore uses it to
// normalize stored records against the current schema.
func (s *Store) ReplaceRecord(rec ir.NodeRecord) error {
	old, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("replace record %s: %w", rec.ID, ErrRecordNotFound)
	}
	if old.Equal(rec) {
		return nil
	}
	s.touch(rec.ID)
	cp := rec.Clone()
	s.records[rec.ID] = &cp
	return nil
}

// RemoveRecord deletes the record for id. Route records elsewhere that still
// reference id are the caller's responsibility.
func (s *Store) RemoveRecord(id ir.NodeID) error {
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("remove record %s: %w", id, ErrRecordNotFound)
	}
	s.touch(id)
	delete(s.records, id)
	return nil
}

// SetRouteRecord replaces the route record at f and returns the ids that
// entered and left the route. It is the only way route membership changes.
func (s *Store) SetRouteRecord(f ir.FieldID, route ir.RouteRecord) (TreeChanges, error) {
	rec, err := s.field(f, ir.RouteSlot)
	if err != nil {
		return TreeChanges{}, fmt.Errorf("set route %s: %w", f, err)
	}
	prev := rec.Routes[f.Offset]
	if prev.Equal(route) {
		return TreeChanges{}, nil
	}

	changes := diffMembership(prev.IDs(), route.IDs())
	s.touch(f.Node)
	rec.Routes[f.Offset] = route.Clone()
	return changes, nil
}

func diffMembership(prev, next []ir.NodeID) TreeChanges {
	var changes TreeChanges
	for _, id := range next {
		if !slices.Contains(prev, id) {
			changes.Added = append(changes.Added, id)
		}
	}
	for _, id := range prev {
		if !slices.Contains(next, id) {
			changes.Removed = append(changes.Removed, id)
		}
	}
	return changes
}

// Snapshot captures every record in NodeID order.
func (s *Store) Snapshot(root ir.NodeID, intent *ir.IntentRecord) ir.TreeStateRecord {
	tree := ir.TreeStateRecord{
		Version: ir.SnapshotVersion,
		Root:    root,
		Nodes:   make([]ir.NodeRecord, 0, len(s.records)),
		Intent:  intent.Clone(),
	}
	for _, id := range s.IDs() {
		tree.Nodes = append(tree.Nodes, s.records[id].Clone())
	}
	return tree
}

// Restore replaces the entire contents with the snapshot's records. The
// snapshot must validate; on error the store is unchanged.
func (s *Store) Restore(tree ir.TreeStateRecord) error {
	if errs := tree.Validate(); len(errs) > 0 {
		return fmt.Errorf("restore: invalid snapshot: %w", errors.Join(toErrors(errs)...))
	}
	for id := range s.records {
		s.touch(id)
	}
	s.records = make(map[ir.NodeID]*ir.NodeRecord, len(tree.Nodes))
	for _, n := range tree.Nodes {
		s.touch(n.ID)
		cp := n.Clone()
		s.records[n.ID] = &cp
	}
	return nil
}

func toErrors(errs []ir.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

func (s *Store) field(f ir.FieldID, kind ir.FieldKind) (*ir.NodeRecord, error) {
	rec, ok := s.records[f.Node]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if f.Kind != kind {
		return nil, ErrFieldKind
	}
	n := len(rec.Values)
	if kind == ir.RouteSlot {
		n = len(rec.Routes)
	}
	if f.Offset < 0 || f.Offset >= n {
		return nil, ErrFieldOutOfRange
	}
	return rec, nil
}
