// Package harness runs scripted scenarios against a live grove runtime.
//
// A scenario names a root node type from the sample registry, applies a
// sequence of writes and intent signals, and then checks expectations
// written as expr-lang boolean expressions over the final tree. The final
// tree can also be compared against a golden rendering.
//
// # Scenario Format
//
//	name: counter_child
//	description: "A leaf appears once count exceeds one"
//	root: counter
//	steps:
//	  - set: { count: 2 }
//	  - at: root/child
//	    set: { hits: 1 }
//	  - signal: /open/item;42
//	  - restart: true
//	  - set: { count: "x" }
//	    error: DECLARATION
//	expect:
//	  - expr: 'nodes == 2'
//	  - expr: 'value("root/child", "text") == "hello"'
//	    message: "child starts with its init text"
//
// # Paths
//
// Nodes are addressed by route paths from the root: "root", "root/child",
// "root/items[b]", "root/detail". A list child is selected by key.
//
// # Expression Environment
//
//   - nodes: number of live nodes
//   - intent: the pending intent in wire form, "" when none
//   - notifications: notifications observed during the run
//   - errors: error codes reported by failed steps, in order
//   - root: the root node's values by name
//   - value(path, field), exists(path), occupants(path, route), routeKeys(path, route)
//
// # Golden Files
//
// RunWithGolden compares Render of the final tree against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
