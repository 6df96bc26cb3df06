package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

// createTestArchive opens an archive in a per-test temp directory.
func createTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// parentRecord has one value field and one list route.
func parentRecord(id ir.NodeID, children ...ir.RouteEntry) ir.NodeRecord {
	if children == nil {
		children = []ir.RouteEntry{}
	}
	return ir.NodeRecord{
		ID:     id,
		Type:   "parent",
		Values: []ir.FieldValue{{Name: "count", Value: ir.IRInt(0)}},
		Routes: []ir.RouteRecord{{Name: "items", Kind: ir.RouteList, Entries: children}},
	}
}

func leafRecord(id ir.NodeID, title string) ir.NodeRecord {
	return ir.NodeRecord{
		ID:     id,
		Type:   "leaf",
		Values: []ir.FieldValue{{Name: "title", Value: ir.IRString(title)}},
		Routes: []ir.RouteRecord{},
	}
}

// sampleTree builds root → [a, b].
func sampleTree() ir.TreeStateRecord {
	return ir.TreeStateRecord{
		Version: ir.SnapshotVersion,
		Root:    ir.RootID,
		Nodes: []ir.NodeRecord{
			leafRecord("a", "first"),
			leafRecord("b", "second"),
			parentRecord(ir.RootID, ir.RouteEntry{ID: "a", Key: "1"}, ir.RouteEntry{ID: "b", Key: "2"}),
		},
	}
}
