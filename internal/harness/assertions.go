package harness

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"

	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// ExpectationError is returned when an expectation does not hold.
type ExpectationError struct {
	Expr    string
	Message string
	Tree    string // rendered final tree for context
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Expectation failed: %s\n", e.Expr)
	if e.Message != "" {
		fmt.Fprintf(&buf, "  %s\n", e.Message)
	}
	if e.Tree != "" {
		fmt.Fprintf(&buf, "\nFinal tree:\n%s", e.Tree)
	}
	return buf.String()
}

// environment builds the expression variables for a finished run.
func environment(result *Result) map[string]any {
	tree := result.Tree
	root := map[string]any{}
	if rec, ok := tree.Node(tree.Root); ok {
		for _, v := range rec.Values {
			root[v.Name] = ir.ToGo(v.Value)
		}
	}
	codes := result.Codes
	if codes == nil {
		codes = []string{}
	}
	return map[string]any{
		"nodes":         len(tree.Nodes),
		"intent":        intent.FromRecord(tree.Intent).String(),
		"notifications": result.Notifications,
		"errors":        codes,
		"root":          root,
	}
}

// functions exposes tree lookups to expressions.
func functions(tree ir.TreeStateRecord) []exprlang.Option {
	record := func(path any) (ir.NodeRecord, error) {
		p, ok := path.(string)
		if !ok {
			return ir.NodeRecord{}, fmt.Errorf("path must be a string, got %T", path)
		}
		id, err := ResolvePath(tree, p)
		if err != nil {
			return ir.NodeRecord{}, err
		}
		rec, _ := tree.Node(id)
		return rec, nil
	}
	route := func(params []any) (ir.RouteRecord, error) {
		if len(params) != 2 {
			return ir.RouteRecord{}, fmt.Errorf("want (path, route)")
		}
		rec, err := record(params[0])
		if err != nil {
			return ir.RouteRecord{}, err
		}
		name, _ := params[1].(string)
		r, ok := findRoute(rec, name)
		if !ok {
			return ir.RouteRecord{}, fmt.Errorf("%s has no route %q", rec.Type, name)
		}
		return r, nil
	}

	return []exprlang.Option{
		exprlang.Function("value", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("value: want (path, field)")
			}
			rec, err := record(params[0])
			if err != nil {
				return nil, err
			}
			field, _ := params[1].(string)
			v, ok := valueOf(rec, field)
			if !ok {
				return nil, fmt.Errorf("value: %s has no field %q", rec.Type, field)
			}
			return ir.ToGo(v), nil
		}, new(func(string, string) any)),
		exprlang.Function("exists", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("exists: want (path)")
			}
			_, err := record(params[0])
			return err == nil, nil
		}, new(func(string) bool)),
		exprlang.Function("occupants", func(params ...any) (any, error) {
			r, err := route(params)
			if err != nil {
				return nil, fmt.Errorf("occupants: %w", err)
			}
			return len(r.Entries), nil
		}, new(func(string, string) int)),
		exprlang.Function("routeKeys", func(params ...any) (any, error) {
			r, err := route(params)
			if err != nil {
				return nil, fmt.Errorf("routeKeys: %w", err)
			}
			out := make([]any, len(r.Entries))
			for i, e := range r.Entries {
				out[i] = e.Key
			}
			return out, nil
		}, new(func(string, string) []any)),
	}
}

// EvaluateExpectations checks every expectation against result and returns
// one message per failure.
func EvaluateExpectations(result *Result, expectations []Expectation) []string {
	if len(expectations) == 0 {
		return nil
	}
	env := environment(result)
	rendered, _ := Render(result.Tree)

	var failures []string
	for _, e := range expectations {
		if err := evaluate(env, result.Tree, e); err != nil {
			if ee, ok := err.(*ExpectationError); ok {
				ee.Tree = rendered
			}
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(env map[string]any, tree ir.TreeStateRecord, e Expectation) error {
	options := append([]exprlang.Option{exprlang.Env(env), exprlang.AsBool()}, functions(tree)...)
	program, err := exprlang.Compile(e.Expr, options...)
	if err != nil {
		return fmt.Errorf("compile %q: %w", e.Expr, err)
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return fmt.Errorf("evaluate %q: %w", e.Expr, err)
	}
	if ok, _ := out.(bool); !ok {
		return &ExpectationError{Expr: e.Expr, Message: e.Message}
	}
	return nil
}
