package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir holds golden renderings relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario, fails the test on any scenario error and
// compares the rendered final tree against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) *Result {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares the rendered tree of an existing result against the
// golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	rendered, err := Render(result.Tree)
	if err != nil {
		t.Fatalf("render %s: %v", name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(rendered))
}
