package store

import (
	"errors"
	"slices"

	"github.com/roach88/grove/internal/ir"
)

// ErrJournalActive is returned by Begin while a previous write is open.
var ErrJournalActive = errors.New("journal already active")

// journal holds the pre-image of each record touched since Begin. A nil
// pre-image means the record did not exist.
type journal struct {
	before map[ir.NodeID]*ir.NodeRecord
	order  []ir.NodeID
}

// RecordChange is the net effect of one write on one record. Before is nil
// for a record added by the write; After is nil for a removed one.
type RecordChange struct {
	ID     ir.NodeID
	Before *ir.NodeRecord
	After  *ir.NodeRecord
}

// Added reports whether the record was created by the write.
func (c RecordChange) Added() bool { return c.Before == nil && c.After != nil }

// Removed reports whether the record was deleted by the write.
func (c RecordChange) Removed() bool { return c.Before != nil && c.After == nil }

// Begin opens a journal. Every mutation until Commit or Rollback is undoable.
func (s *Store) Begin() error {
	if s.journal != nil {
		return ErrJournalActive
	}
	s.journal = &journal{before: make(map[ir.NodeID]*ir.NodeRecord)}
	return nil
}

// InWrite reports whether a journal is open.
func (s *Store) InWrite() bool { return s.journal != nil }

// touch saves the pre-image of id on first mutation within the journal.
func (s *Store) touch(id ir.NodeID) {
	j := s.journal
	if j == nil {
		return
	}
	if _, seen := j.before[id]; seen {
		return
	}
	j.order = append(j.order, id)
	if rec, ok := s.records[id]; ok {
		cp := rec.Clone()
		j.before[id] = &cp
		return
	}
	j.before[id] = nil
}

// Commit closes the journal and returns the records whose state differs
// from the pre-image, in NodeID order. Records touched and restored to their
// original state are omitted.
func (s *Store) Commit() []RecordChange {
	j := s.journal
	s.journal = nil
	if j == nil {
		return nil
	}

	ids := slices.Clone(j.order)
	slices.SortFunc(ids, ir.NodeID.Compare)

	var changes []RecordChange
	for _, id := range ids {
		before := j.before[id]
		var after *ir.NodeRecord
		if rec, ok := s.records[id]; ok {
			cp := rec.Clone()
			after = &cp
		}
		switch {
		case before == nil && after == nil:
			continue
		case before != nil && after != nil && before.Equal(*after):
			continue
		}
		changes = append(changes, RecordChange{ID: id, Before: before, After: after})
	}
	return changes
}

// Rollback restores every touched record to its pre-image and closes the
// journal.
func (s *Store) Rollback() {
	j := s.journal
	s.journal = nil
	if j == nil {
		return
	}
	for _, id := range j.order {
		if before := j.before[id]; before != nil {
			s.records[id] = before
		} else {
			delete(s.records, id)
		}
	}
}
