package ir

import "fmt"

// ValidationError is one structural problem in a record, with a field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a snapshot's structure. It returns every problem found
// rather than stopping at the first.
//
// A valid snapshot has a known version, sorted unique node ids, a root record,
// route records that respect their kind, and parent links forming a tree:
// every non-root node is referenced by exactly one route entry and is
// reachable from the root.
func (t TreeStateRecord) Validate() []ValidationError {
	var errs []ValidationError

	if t.Version != SnapshotVersion {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %q, expected %q", t.Version, SnapshotVersion),
		})
	}
	if !t.Root.Valid() {
		errs = append(errs, ValidationError{Field: "root", Message: "root id is required"})
	}

	index := make(map[NodeID]int, len(t.Nodes))
	for i, n := range t.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if !n.ID.Valid() {
			errs = append(errs, ValidationError{Field: path + ".id", Message: "node id is required"})
			continue
		}
		if _, dup := index[n.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
			})
			continue
		}
		if i > 0 && t.Nodes[i-1].ID.Compare(n.ID) > 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".id",
				Message: fmt.Sprintf("nodes must be sorted by id, %q follows %q", n.ID, t.Nodes[i-1].ID),
			})
		}
		if n.Type == "" {
			errs = append(errs, ValidationError{Field: path + ".type", Message: "node type is required"})
		}
		index[n.ID] = i
		errs = append(errs, validateRoutes(path, n)...)
	}

	if t.Root.Valid() {
		if _, ok := index[t.Root]; !ok {
			errs = append(errs, ValidationError{
				Field:   "root",
				Message: fmt.Sprintf("root %q has no node record", t.Root),
			})
		}
	}

	parents := make(map[NodeID]NodeID, len(t.Nodes))
	for _, n := range t.Nodes {
		for r, route := range n.Routes {
			for e, entry := range route.Entries {
				path := fmt.Sprintf("nodes[%d].routes[%d].entries[%d]", index[n.ID], r, e)
				if _, ok := index[entry.ID]; !ok {
					errs = append(errs, ValidationError{
						Field:   path,
						Message: fmt.Sprintf("dangling reference to %q", entry.ID),
					})
					continue
				}
				if entry.ID == t.Root {
					errs = append(errs, ValidationError{Field: path, Message: "root cannot be a child"})
					continue
				}
				if prev, seen := parents[entry.ID]; seen {
					errs = append(errs, ValidationError{
						Field:   path,
						Message: fmt.Sprintf("node %q already attached under %q", entry.ID, prev),
					})
					continue
				}
				parents[entry.ID] = n.ID
			}
		}
	}

	if _, ok := index[t.Root]; ok {
		reached := map[NodeID]bool{t.Root: true}
		stack := []NodeID{t.Root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, child := range t.Nodes[index[id]].Children() {
				if _, ok := index[child]; ok && !reached[child] && parents[child] == id {
					reached[child] = true
					stack = append(stack, child)
				}
			}
		}
		for i, n := range t.Nodes {
			if n.ID.Valid() && !reached[n.ID] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("nodes[%d]", i),
					Message: fmt.Sprintf("node %q is not reachable from root", n.ID),
				})
			}
		}
	}

	if t.Intent != nil {
		for i, s := range t.Intent.Steps {
			if s.Name == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("intent.steps[%d].name", i),
					Message: "step name is required",
				})
			}
		}
	}

	return errs
}

func validateRoutes(path string, n NodeRecord) []ValidationError {
	var errs []ValidationError
	for r, route := range n.Routes {
		rpath := fmt.Sprintf("%s.routes[%d]", path, r)
		if !ValidRouteKinds[route.Kind] {
			errs = append(errs, ValidationError{
				Field:   rpath + ".kind",
				Message: fmt.Sprintf("invalid route kind %q, must be one of: single, union2, union3, list", route.Kind),
			})
			continue
		}
		if route.Kind != RouteList && len(route.Entries) > 1 {
			errs = append(errs, ValidationError{
				Field:   rpath + ".entries",
				Message: fmt.Sprintf("%s route holds %d entries, at most one allowed", route.Kind, len(route.Entries)),
			})
		}
		if route.Arm < 0 || route.Arm >= route.Kind.Arity() {
			errs = append(errs, ValidationError{
				Field:   rpath + ".arm",
				Message: fmt.Sprintf("arm %d out of range for %s", route.Arm, route.Kind),
			})
		}
		if route.Kind == RouteList {
			keys := make(map[string]bool, len(route.Entries))
			for e, entry := range route.Entries {
				if keys[entry.Key] {
					errs = append(errs, ValidationError{
						Field:   fmt.Sprintf("%s.entries[%d].key", rpath, e),
						Message: fmt.Sprintf("duplicate list key %q", entry.Key),
					})
				}
				keys[entry.Key] = true
			}
		}
	}
	return errs
}
