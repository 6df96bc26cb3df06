package harness

import (
	"sort"

	"github.com/roach88/grove/internal/engine"
	"github.com/roach88/grove/internal/ir"
)

// registry maps node type names usable as a scenario root.
var registry = map[string]engine.Node{
	"leaf":    leafNode{},
	"counter": counterNode{},
	"list":    listNode{},
	"tabs":    tabsNode{},
	"app":     appNode{},
	"detail":  detailNode{},
	"themed":  themedNode{},
	"loop":    loopNode{},
	"ramp":    rampNode{},
}

func lookupNode(name string) (engine.Node, bool) {
	n, ok := registry[name]
	return n, ok
}

// NodeTypes lists the registered node type names in sorted order.
func NodeTypes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// leafNode has two plain values and no children.
type leafNode struct{}

func (leafNode) Schema() engine.Schema {
	return engine.Schema{
		Type: "leaf",
		Values: []engine.ValueSpec{
			engine.Value("text", ir.IRString("")),
			engine.Value("hits", ir.IRInt(0)),
		},
	}
}

func (leafNode) Rules(*engine.Context) {}

// counterNode shows a leaf once count exceeds one.
type counterNode struct{}

func (counterNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "counter",
		Values: []engine.ValueSpec{engine.Value("count", ir.IRInt(0))},
		Routes: []engine.RouteSpec{engine.Route("child", ir.RouteSingle)},
	}
}

func (counterNode) Rules(c *engine.Context) {
	if c.Int("count") <= 1 {
		c.Route("child", nil)
		return
	}
	c.Route("child", &engine.Child{
		Node: leafNode{},
		Init: map[string]ir.IRValue{"text": ir.IRString("hello")},
	})
}

// listNode keeps one leaf per string in keys.
type listNode struct{}

func (listNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "list",
		Values: []engine.ValueSpec{engine.Value("keys", ir.NewIRArray())},
		Routes: []engine.RouteSpec{engine.Route("items", ir.RouteList)},
	}
}

func (listNode) Rules(c *engine.Context) {
	keys, _ := c.Get("keys").(ir.IRArray)
	items := make([]engine.Child, 0, len(keys))
	for _, k := range keys {
		key, ok := k.(ir.IRString)
		if !ok {
			c.Errorf("keys: want strings, got %s", ir.KindOf(k))
			return
		}
		child := engine.Keyed(string(key), leafNode{})
		child.Init = map[string]ir.IRValue{"text": key}
		items = append(items, child)
	}
	c.List("items", items...)
}

// tabsNode places a leaf in the arm selected by tab.
type tabsNode struct{}

func (tabsNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "tabs",
		Values: []engine.ValueSpec{engine.Value("tab", ir.IRInt(0))},
		Routes: []engine.RouteSpec{engine.Route("pane", ir.RouteUnion2)},
	}
}

func (tabsNode) Rules(c *engine.Context) {
	c.Union("pane", int(c.Int("tab")), engine.C(leafNode{}))
}

// appNode opens a detail child on the "open" intent step.
type appNode struct{}

func (appNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "app",
		Values: []engine.ValueSpec{engine.Value("screen", ir.IRString("home"))},
		Routes: []engine.RouteSpec{engine.Route("detail", ir.RouteSingle)},
	}
}

func (appNode) Rules(c *engine.Context) {
	if c.String("screen") == "detail" {
		c.Route("detail", engine.C(detailNode{}))
	} else {
		c.Route("detail", nil)
	}
	c.OnIntent("open", func(ir.Step) engine.Claim {
		return engine.Resolve(func(tx *engine.Tx) error {
			return tx.Set("screen", ir.IRString("detail"))
		})
	})
}

// detailNode claims "item" steps, holding them pending until ready.
type detailNode struct{}

func (detailNode) Schema() engine.Schema {
	return engine.Schema{
		Type: "detail",
		Values: []engine.ValueSpec{
			engine.Value("ready", ir.IRBool(false)),
			engine.Value("item", ir.IRString("")),
		},
	}
}

func (detailNode) Rules(c *engine.Context) {
	ready := c.Bool("ready")
	c.OnIntent("item", func(step ir.Step) engine.Claim {
		if !ready {
			return engine.Pending()
		}
		return engine.Resolve(func(tx *engine.Tx) error {
			return tx.Set("item", ir.IRString(step.Payload))
		})
	})
}

// themedNode copies the "theme" environment entry into its state on start.
type themedNode struct{}

func (themedNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "themed",
		Values: []engine.ValueSpec{engine.Value("theme", ir.IRString(""))},
	}
}

func (themedNode) Rules(c *engine.Context) {
	theme, _ := c.Env("theme")
	name, _ := theme.(string)
	c.OnStart("theme", func(tx *engine.Tx) error {
		return tx.Set("theme", ir.IRString(name))
	})
}

// loopNode bumps n whenever n changes, which never settles.
type loopNode struct{}

func (loopNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "loop",
		Values: []engine.ValueSpec{engine.Value("n", ir.IRInt(0))},
	}
}

func (loopNode) Rules(c *engine.Context) {
	c.OnChange("bump", c.Get("n"), func(tx *engine.Tx) error {
		return tx.Set("n", ir.IRInt(tx.Int("n")+1))
	})
}

// rampNode steps n up to 4 once it is set above zero, one evaluation per
// step, so a write that sets n to 1 evaluates the root four times.
type rampNode struct{}

func (rampNode) Schema() engine.Schema {
	return engine.Schema{
		Type:   "ramp",
		Values: []engine.ValueSpec{engine.Value("n", ir.IRInt(0))},
	}
}

func (rampNode) Rules(c *engine.Context) {
	n := c.Int("n")
	c.OnChange("ramp", c.Get("n"), func(tx *engine.Tx) error {
		if n <= 0 || n >= 4 {
			return nil
		}
		return tx.Set("n", ir.IRInt(n+1))
	})
}
