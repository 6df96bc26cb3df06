package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

func TestRollbackRestoresPreImage(t *testing.T) {
	s := New()
	require.NoError(t, s.Restore(sampleTree()))
	before := s.Snapshot(ir.RootID, nil)

	require.NoError(t, s.Begin())
	_, err := s.Write(ir.ValueField("a", 0), ir.IRString("edited"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveRecord("b"))
	require.NoError(t, s.AddRecord(leafRecord("c", "new")))
	_, err = s.SetRouteRecord(ir.RouteField(ir.RootID, 0), ir.RouteRecord{
		Name:    "items",
		Kind:    ir.RouteList,
		Entries: []ir.RouteEntry{{ID: "a", Key: "1"}, {ID: "c", Key: "3"}},
	})
	require.NoError(t, err)
	s.Rollback()

	assert.False(t, s.InWrite())
	assert.True(t, before.Equal(s.Snapshot(ir.RootID, nil)))
}

func TestRollbackOfRestore(t *testing.T) {
	s := New()
	require.NoError(t, s.AddRecord(leafRecord("old", "x")))

	require.NoError(t, s.Begin())
	require.NoError(t, s.Restore(sampleTree()))
	s.Rollback()

	assert.Equal(t, []ir.NodeID{"old"}, s.IDs())
}

func TestCommitReportsNetChanges(t *testing.T) {
	s := New()
	require.NoError(t, s.Restore(sampleTree()))

	require.NoError(t, s.Begin())
	_, err := s.Write(ir.ValueField("a", 0), ir.IRString("edited"))
	require.NoError(t, err)
	// Touched and reverted: not a net change.
	_, err = s.Write(ir.ValueField("b", 0), ir.IRString("tmp"))
	require.NoError(t, err)
	_, err = s.Write(ir.ValueField("b", 0), ir.IRString("second"))
	require.NoError(t, err)
	require.NoError(t, s.AddRecord(leafRecord("c", "new")))
	// Added and removed within the write: not a net change.
	require.NoError(t, s.AddRecord(leafRecord("d", "tmp")))
	require.NoError(t, s.RemoveRecord("d"))

	changes := s.Commit()
	require.Len(t, changes, 2)

	assert.Equal(t, ir.NodeID("a"), changes[0].ID)
	assert.False(t, changes[0].Added())
	assert.False(t, changes[0].Removed())
	assert.Equal(t, ir.IRString("first"), changes[0].Before.Values[0].Value)
	assert.Equal(t, ir.IRString("edited"), changes[0].After.Values[0].Value)

	assert.Equal(t, ir.NodeID("c"), changes[1].ID)
	assert.True(t, changes[1].Added())
}

func TestBeginTwiceFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Begin())
	assert.ErrorIs(t, s.Begin(), ErrJournalActive)
	s.Commit()
	assert.NoError(t, s.Begin())
}

func TestMutationsOutsideJournalAreNotTracked(t *testing.T) {
	s := New()
	require.NoError(t, s.AddRecord(leafRecord("a", "x")))
	assert.Nil(t, s.Commit())
}
