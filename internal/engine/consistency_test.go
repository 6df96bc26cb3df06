package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

// =============================================================================
// Consistency checks
// =============================================================================

func TestConsistency_HealthyTreePasses(t *testing.T) {
	rt, _ := startRuntime(t, counterNode{})
	setRoot(t, rt, "count", ir.IRInt(2))

	require.NoError(t, rt.Update(testContext(t), func(*Tx) error {
		return rt.checkConsistency()
	}))
}

func TestConsistency_DanglingRouteRollsBack(t *testing.T) {
	rt, sink := startRuntime(t, counterNode{})
	before, err := rt.Snapshot()
	require.NoError(t, err)

	err = rt.Update(testContext(t), func(*Tx) error {
		_, err := rt.store.SetRouteRecord(ir.RouteField(ir.RootID, 0), ir.RouteRecord{
			Name:    "child",
			Kind:    ir.RouteSingle,
			Entries: []ir.RouteEntry{{ID: "ghost"}},
		})
		return err
	})
	require.Error(t, err)
	assert.True(t, IsConsistencyError(err))

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeDanglingRoute, re.Code)
	assert.Equal(t, "ghost", re.Details["child"])

	after, err := rt.Snapshot()
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "store rolled back")
	assert.Len(t, sink.all(), 1)
}

func TestConsistency_OrphanRecordRollsBack(t *testing.T) {
	rt, _ := startRuntime(t, counterNode{})

	err := rt.Update(testContext(t), func(*Tx) error {
		return rt.store.AddRecord(ir.NodeRecord{
			ID:     "orphan",
			Type:   "leaf",
			Values: []ir.FieldValue{},
			Routes: []ir.RouteRecord{},
		})
	})
	require.Error(t, err)

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeInconsistent, re.Code)
	assert.Equal(t, ir.NodeID("orphan"), re.Node)

	_, ok := rt.View("orphan")
	assert.False(t, ok)
	assert.Equal(t, 1, rt.NodeCount())
}

func TestConsistency_DisabledSkipsCheck(t *testing.T) {
	rt, _ := startRuntime(t, counterNode{}, WithConsistencyChecks(false))

	require.NoError(t, rt.Update(testContext(t), func(*Tx) error {
		return rt.store.AddRecord(ir.NodeRecord{
			ID:     "orphan",
			Type:   "leaf",
			Values: []ir.FieldValue{},
			Routes: []ir.RouteRecord{},
		})
	}))
	_, ok := rt.View("orphan")
	assert.True(t, ok)
}
