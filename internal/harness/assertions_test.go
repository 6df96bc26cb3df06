package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Tree = sampleTree()
	r.Notifications = 3
	r.Codes = []string{"CYCLE_DETECTED"}
	return r
}

func expectAll(exprs ...string) []Expectation {
	out := make([]Expectation, len(exprs))
	for i, e := range exprs {
		out[i] = Expectation{Expr: e}
	}
	return out
}

// ============================================================================
// Passing expectations
// ============================================================================

func TestEvaluateExpectations_Environment(t *testing.T) {
	failures := EvaluateExpectations(sampleResult(), expectAll(
		`nodes == 4`,
		`intent == "/go;a%20b"`,
		`notifications == 3`,
		`errors[0] == "CYCLE_DETECTED"`,
		`root.on == true`,
		`len(root.tags) == 1`,
	))
	assert.Empty(t, failures)
}

func TestEvaluateExpectations_Functions(t *testing.T) {
	failures := EvaluateExpectations(sampleResult(), expectAll(
		`value("root/items[one]", "text") == "one"`,
		`value("root/pane", "text") == "pane"`,
		`exists("root/pane")`,
		`not exists("root/items[nine]")`,
		`occupants("root", "items") == 2`,
		`occupants("root", "empty") == 0`,
		`routeKeys("root", "items")[0] == "two"`,
	))
	assert.Empty(t, failures)
}

func TestEvaluateExpectations_NoIntent(t *testing.T) {
	r := sampleResult()
	r.Tree.Intent = nil

	assert.Empty(t, EvaluateExpectations(r, expectAll(`intent == ""`)))
}

// ============================================================================
// Failures
// ============================================================================

func TestEvaluateExpectations_FalseIncludesTree(t *testing.T) {
	failures := EvaluateExpectations(sampleResult(), []Expectation{
		{Expr: `nodes == 5`, Message: "five nodes"},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "Expectation failed: nodes == 5")
	assert.Contains(t, failures[0], "five nodes")
	assert.Contains(t, failures[0], "root host")
}

func TestEvaluateExpectations_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"not bool", `nodes + 1`, "compile"},
		{"syntax", `nodes ==`, "compile"},
		{"bad path", `value("root/nope", "text") == ""`, "evaluate"},
		{"bad field", `value("root", "nope") == ""`, "evaluate"},
		{"bad route", `occupants("root", "nope") == 0`, "evaluate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateExpectations(sampleResult(), expectAll(tt.expr))
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0], tt.want)
		})
	}
}

func TestExpectationError_Format(t *testing.T) {
	err := &ExpectationError{Expr: "nodes == 1"}
	assert.Equal(t, "Expectation failed: nodes == 1\n", err.Error())
}

func TestEnvironment_RootValues(t *testing.T) {
	env := environment(sampleResult())
	root := env["root"].(map[string]any)
	assert.Equal(t, true, root["on"])
	assert.Equal(t, []any{"x"}, root["tags"])
	assert.Equal(t, 4, env["nodes"])
}
