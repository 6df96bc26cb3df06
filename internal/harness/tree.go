package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// ResolvePath finds the node addressed by path in tree.
//
// Paths start at "root" and descend by route name; list children are
// selected with a bracketed key, e.g. "root/items[b]".
func ResolvePath(tree ir.TreeStateRecord, path string) (ir.NodeID, error) {
	if path == "" {
		path = "root"
	}
	segs := strings.Split(path, "/")
	if segs[0] != "root" {
		return ir.InvalidID, fmt.Errorf("path %q: must start at root", path)
	}

	id := tree.Root
	for _, seg := range segs[1:] {
		rec, ok := tree.Node(id)
		if !ok {
			return ir.InvalidID, fmt.Errorf("path %q: node %s missing", path, id)
		}
		name, key, keyed := parseSegment(seg)
		route, ok := findRoute(rec, name)
		if !ok {
			return ir.InvalidID, fmt.Errorf("path %q: %s has no route %q", path, rec.Type, name)
		}
		next, ok := pickEntry(route, key, keyed)
		if !ok {
			return ir.InvalidID, fmt.Errorf("path %q: route %q has no child %q", path, name, seg)
		}
		id = next
	}
	return id, nil
}

func parseSegment(seg string) (name, key string, keyed bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, "", false
	}
	return seg[:open], seg[open+1 : len(seg)-1], true
}

func findRoute(rec ir.NodeRecord, name string) (ir.RouteRecord, bool) {
	for _, r := range rec.Routes {
		if r.Name == name {
			return r, true
		}
	}
	return ir.RouteRecord{}, false
}

func pickEntry(route ir.RouteRecord, key string, keyed bool) (ir.NodeID, bool) {
	if !keyed {
		if len(route.Entries) != 1 {
			return ir.InvalidID, false
		}
		return route.Entries[0].ID, true
	}
	for _, e := range route.Entries {
		if e.Key == key {
			return e.ID, true
		}
	}
	return ir.InvalidID, false
}

// valueOf returns the named value of a record.
func valueOf(rec ir.NodeRecord, field string) (ir.IRValue, bool) {
	for _, v := range rec.Values {
		if v.Name == field {
			return v.Value, true
		}
	}
	return nil, false
}

// Render prints tree as an indented outline without node ids, so the output
// is stable across id generators. Each line is the route label, the node
// type and its values in declaration order.
//
//	nodes 2
//	root counter count=2
//	  child leaf text="hello" hits=0
func Render(tree ir.TreeStateRecord) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "nodes %d\n", len(tree.Nodes))
	if err := renderNode(&b, tree, tree.Root, "root", 0); err != nil {
		return "", err
	}
	if tree.Intent != nil && len(tree.Intent.Steps) > 0 {
		fmt.Fprintf(&b, "intent %s\n", intent.FromRecord(tree.Intent))
	}
	return b.String(), nil
}

func renderNode(b *strings.Builder, tree ir.TreeStateRecord, id ir.NodeID, label string, depth int) error {
	rec, ok := tree.Node(id)
	if !ok {
		return fmt.Errorf("render: node %s missing", id)
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(label)
	b.WriteByte(' ')
	b.WriteString(rec.Type)
	for _, v := range rec.Values {
		data, err := ir.MarshalIRValue(v.Value)
		if err != nil {
			return fmt.Errorf("render %s.%s: %w", id, v.Name, err)
		}
		fmt.Fprintf(b, " %s=%s", v.Name, data)
	}
	b.WriteByte('\n')

	for _, r := range rec.Routes {
		for _, e := range r.Entries {
			if err := renderNode(b, tree, e.ID, routeLabel(r, e), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func routeLabel(r ir.RouteRecord, e ir.RouteEntry) string {
	switch r.Kind {
	case ir.RouteList:
		return fmt.Sprintf("%s[%s]", r.Name, e.Key)
	case ir.RouteUnion2, ir.RouteUnion3:
		return fmt.Sprintf("%s#%d", r.Name, r.Arm)
	default:
		return r.Name
	}
}
