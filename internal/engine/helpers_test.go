package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

// seqIDs hands out n-0001, n-0002, ... for single and union children.
type seqIDs struct{ n int }

func (g *seqIDs) NewID() ir.NodeID {
	g.n++
	return ir.NodeID(fmt.Sprintf("n-%04d", g.n))
}

// errorSink collects errors reported by failed writes.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRuntime builds a runtime with deterministic ids, consistency
// checks and a collecting error sink.
func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *errorSink) {
	t.Helper()
	sink := &errorSink{}
	base := []Option{
		WithIDGenerator(&seqIDs{}),
		WithConsistencyChecks(true),
		WithLogger(quietLogger()),
		WithErrorSink(sink.report),
	}
	return New(append(base, opts...)...), sink
}

// startRuntime starts root and stops the runtime when the test ends.
func startRuntime(t *testing.T, root Node, opts ...Option) (*Runtime, *errorSink) {
	t.Helper()
	rt, sink := newTestRuntime(t, opts...)
	require.NoError(t, rt.Start(testContext(t), root))
	t.Cleanup(func() {
		if rt.Active() {
			_ = rt.Stop(context.Background())
		}
	})
	return rt, sink
}

func setRoot(t *testing.T, rt *Runtime, name string, v ir.IRValue) {
	t.Helper()
	require.NoError(t, rt.Update(testContext(t), func(tx *Tx) error {
		return tx.Set(name, v)
	}))
}

func readValue(t *testing.T, rt *Runtime, node ir.NodeID, name string) ir.IRValue {
	t.Helper()
	f, err := rt.Field(node, name)
	require.NoError(t, err)
	v, ok := rt.Read(f)
	require.True(t, ok)
	return v
}

func children(t *testing.T, rt *Runtime, node ir.NodeID, route string) []ir.NodeID {
	t.Helper()
	ids, err := rt.Children(node, route)
	require.NoError(t, err)
	return ids
}

// =============================================================================
// Sample nodes
// =============================================================================

// leafNode has no children. Label is configuration only.
type leafNode struct {
	Label string
}

func (leafNode) Schema() Schema {
	return Schema{
		Type: "leaf",
		Values: []ValueSpec{
			Value("text", ir.IRString("")),
			Value("hits", ir.IRInt(0)),
		},
	}
}

func (leafNode) Rules(*Context) {}

// counterNode shows a leaf child once count exceeds one.
type counterNode struct{}

func (counterNode) Schema() Schema {
	return Schema{
		Type:   "counter",
		Values: []ValueSpec{Value("count", ir.IRInt(0))},
		Routes: []RouteSpec{Route("child", ir.RouteSingle)},
	}
}

func (counterNode) Rules(c *Context) {
	n := c.Int("count")
	if n <= 1 {
		c.Route("child", nil)
		return
	}
	c.Route("child", &Child{
		Node: leafNode{Label: fmt.Sprintf("count-%d", n)},
		Init: map[string]ir.IRValue{"text": ir.IRString("hello")},
	})
}

// switchNode replaces its body whenever mode changes.
type switchNode struct{}

func (switchNode) Schema() Schema {
	return Schema{
		Type:   "switch",
		Values: []ValueSpec{Value("mode", ir.IRString("a"))},
		Routes: []RouteSpec{Route("body", ir.RouteSingle)},
	}
}

func (switchNode) Rules(c *Context) {
	mode := c.Get("mode")
	c.Route("body", &Child{Node: leafNode{}, Capture: mode})
}

// tabsNode places a leaf in the arm selected by tab.
type tabsNode struct{}

func (tabsNode) Schema() Schema {
	return Schema{
		Type:   "tabs",
		Values: []ValueSpec{Value("tab", ir.IRInt(0))},
		Routes: []RouteSpec{Route("pane", ir.RouteUnion2)},
	}
}

func (tabsNode) Rules(c *Context) {
	c.Union("pane", int(c.Int("tab")), C(leafNode{}))
}

// listNode shows one leaf per key, in key order.
type listNode struct{}

func (listNode) Schema() Schema {
	return Schema{
		Type:   "list",
		Values: []ValueSpec{Value("keys", ir.NewIRArray())},
		Routes: []RouteSpec{Route("items", ir.RouteList)},
	}
}

func (listNode) Rules(c *Context) {
	keys, _ := c.Get("keys").(ir.IRArray)
	items := make([]Child, 0, len(keys))
	for _, k := range keys {
		key := string(k.(ir.IRString))
		items = append(items, Keyed(key, leafNode{Label: key}))
	}
	c.List("items", items...)
}

func keys(ks ...string) ir.IRValue {
	arr := make(ir.IRArray, len(ks))
	for i, k := range ks {
		arr[i] = ir.IRString(k)
	}
	return arr
}

func itemID(key string) ir.NodeID {
	return listChildID(ir.RootID, 0, "leaf", key)
}
