package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() TreeStateRecord {
	return TreeStateRecord{
		Version: SnapshotVersion,
		Root:    RootID,
		Nodes: []NodeRecord{
			{
				ID:   "n-0001",
				Type: "counter",
				Values: []FieldValue{
					{Name: "value", Value: IRInt(2)},
				},
				Routes: []RouteRecord{},
			},
			{
				ID:   "n-0002",
				Type: "item",
				Values: []FieldValue{
					{Name: "title", Value: IRString("a")},
				},
				Routes: []RouteRecord{},
			},
			{
				ID:   RootID,
				Type: "app",
				Values: []FieldValue{
					{Name: "value", Value: IRInt(2)},
					{Name: "tags", Value: IRArray{IRString("x")}},
				},
				Routes: []RouteRecord{
					{Name: "child", Kind: RouteSingle, Entries: []RouteEntry{{ID: "n-0001"}}},
					{Name: "items", Kind: RouteList, Entries: []RouteEntry{{ID: "n-0002", Key: "a"}}},
				},
			},
		},
		Intent: &IntentRecord{
			Steps: []Step{{Name: "open", Payload: []byte("42")}},
			From:  RootID,
		},
	}
}

// =============================================================================
// Identity and addressing
// =============================================================================

func TestFieldIDString(t *testing.T) {
	assert.Equal(t, "root/value/0", ValueField(RootID, 0).String())
	assert.Equal(t, "n-1/route/2", RouteField("n-1", 2).String())
}

func TestNodeIDOrdering(t *testing.T) {
	assert.Negative(t, NodeID("a").Compare("b"))
	assert.Zero(t, NodeID("a").Compare("a"))
	assert.False(t, InvalidID.Valid())
	assert.True(t, RootID.Valid())
}

func TestRouteKindArity(t *testing.T) {
	assert.Equal(t, 1, RouteSingle.Arity())
	assert.Equal(t, 2, RouteUnion2.Arity())
	assert.Equal(t, 3, RouteUnion3.Arity())
	assert.Equal(t, 1, RouteList.Arity())
}

func TestRouteRecordCloneDoesNotAlias(t *testing.T) {
	r := RouteRecord{Name: "items", Kind: RouteList, Entries: []RouteEntry{{ID: "a", Key: "k"}}}
	cp := r.Clone()
	cp.Entries[0].ID = "b"

	assert.Equal(t, NodeID("a"), r.Entries[0].ID)
	assert.False(t, r.Equal(cp))
}

func TestNodeRecordChildren(t *testing.T) {
	tree := sampleTree()
	root, ok := tree.Node(RootID)
	require.True(t, ok)

	assert.Equal(t, []NodeID{"n-0001", "n-0002"}, root.Children())
}

// =============================================================================
// Snapshot serialization
// =============================================================================

func TestTreeStateRecordJSONRoundTrip(t *testing.T) {
	tree := sampleTree()

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var decoded TreeStateRecord
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, tree.Equal(decoded), "decoded snapshot differs:\n%s", data)
}

func TestFieldValueNullRoundTrip(t *testing.T) {
	data, err := json.Marshal(FieldValue{Name: "opt", Value: nil})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"opt","value":null}`, string(data))

	var fv FieldValue
	require.NoError(t, json.Unmarshal(data, &fv))
	assert.Equal(t, IRNull{}, fv.Value)
}

func TestDigestDeterministic(t *testing.T) {
	a := sampleTree()
	b := sampleTree()

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64, "SHA-256 hex is 64 characters")
}

func TestDigestChangesWithState(t *testing.T) {
	a := sampleTree()
	b := sampleTree()
	b.Nodes[0].Values[0].Value = IRInt(3)
	c := sampleTree()
	c.Intent = nil

	assert.NotEqual(t, a.MustDigest(), b.MustDigest())
	assert.NotEqual(t, a.MustDigest(), c.MustDigest())
}

func TestTreeStateRecordCloneIsDeep(t *testing.T) {
	a := sampleTree()
	b := a.Clone()
	b.Nodes[2].Routes[1].Entries[0].Key = "changed"
	b.Intent.Steps[0].Payload[0] = 'x'

	assert.Equal(t, "a", a.Nodes[2].Routes[1].Entries[0].Key)
	assert.Equal(t, []byte("42"), a.Intent.Steps[0].Payload)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	assert.Empty(t, sampleTree().Validate())
}

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TreeStateRecord)
		field  string
	}{
		{"bad version", func(tr *TreeStateRecord) { tr.Version = "9" }, "version"},
		{"missing root record", func(tr *TreeStateRecord) { tr.Root = "nope" }, "root"},
		{"dangling entry", func(tr *TreeStateRecord) {
			tr.Nodes[2].Routes[0].Entries[0].ID = "ghost"
		}, "nodes[2].routes[0].entries[0]"},
		{"unsorted nodes", func(tr *TreeStateRecord) {
			tr.Nodes[0], tr.Nodes[1] = tr.Nodes[1], tr.Nodes[0]
		}, "nodes[1].id"},
		{"single with two entries", func(tr *TreeStateRecord) {
			tr.Nodes[2].Routes[0].Entries = append(tr.Nodes[2].Routes[0].Entries, RouteEntry{ID: "n-0002"})
		}, "nodes[2].routes[0].entries"},
		{"union arm out of range", func(tr *TreeStateRecord) {
			tr.Nodes[2].Routes[0].Kind = RouteUnion2
			tr.Nodes[2].Routes[0].Arm = 2
		}, "nodes[2].routes[0].arm"},
		{"unknown route kind", func(tr *TreeStateRecord) {
			tr.Nodes[2].Routes[0].Kind = "tree"
		}, "nodes[2].routes[0].kind"},
		{"unreachable node", func(tr *TreeStateRecord) {
			tr.Nodes[2].Routes[1].Entries = nil
		}, "nodes[1]"},
		{"empty step name", func(tr *TreeStateRecord) {
			tr.Intent.Steps[0].Name = ""
		}, "intent.steps[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := sampleTree()
			tt.mutate(&tree)

			errs := tree.Validate()
			require.NotEmpty(t, errs)

			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}
