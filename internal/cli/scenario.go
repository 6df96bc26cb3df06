package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/harness"
)

// ScenarioOptions holds flags for the scenario run command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario name filter (glob pattern)
	Golden string // golden directory override
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall result of a run.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run scripted runtime scenarios",
	}
	cmd.AddCommand(newScenarioRunCommand(rootOpts))
	cmd.AddCommand(newScenarioNodesCommand(rootOpts))
	return cmd
}

func newScenarioRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file-or-dir>...",
		Short: "Run scenario files",
		Long: `Run YAML scenarios against a live runtime.

Each scenario's final tree is compared with <golden-dir>/<name>.golden
when that file exists. The golden directory defaults to a "golden"
directory next to the scenario's directory.

With --config, the file's runtime settings (max_evaluations, env,
archive, ...) apply to every scenario. A scenario's own max_evaluations
and env take precedence, and consistency checks always run.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  grove scenario run ./testdata/scenarios
  grove scenario run ./testdata/scenarios --filter "intent_*"
  grove scenario run ./testdata/scenarios --update
  grove scenario run counter.yaml --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")

	return cmd
}

func newScenarioNodesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List node types available as scenario roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := harness.NodeTypes()
			return newFormatter(cmd, rootOpts).Emit(strings.Join(types, "\n")+"\n", types)
		},
	}
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, paths []string) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), cfg)

	hopts := []harness.Option{harness.WithLogger(logger)}
	if opts.Config != "" {
		archive, err := cfg.OpenArchive()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		if archive != nil {
			defer archive.Close()
		}
		hopts = append(hopts, harness.WithEngineOptions(cfg.EngineOptions(logger, archive)...))
	}

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	summary := ScenarioSummary{Scenarios: []ScenarioResult{}, Total: len(files)}
	if len(files) == 0 {
		return out.Emit("No scenarios found.\n", summary)
	}

	for _, file := range files {
		res := runScenarioFile(file, opts, hopts...)
		summary.Scenarios = append(summary.Scenarios, res)
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		if !out.JSON() {
			printScenarioResult(out, res)
		}
	}

	if out.JSON() {
		if summary.Failed > 0 {
			return out.Fail("E_SCENARIO_FAILED", fmt.Sprintf("%d scenario(s) failed", summary.Failed), summary)
		}
		return out.Success(summary)
	}

	fmt.Fprintln(out.Writer)
	fmt.Fprintf(out.Writer, "Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	fmt.Fprintln(out.Writer, "✓ All scenarios passed")
	return nil
}

func printScenarioResult(out *OutputFormatter, res ScenarioResult) {
	if res.Pass {
		fmt.Fprintf(out.Writer, "✓ %s\n", res.Name)
		return
	}
	fmt.Fprintf(out.Writer, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(out.Writer, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
}

// findScenarioFiles returns path itself, or every .yaml/.yml file below it.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return filterScenario(nil, path, filter)
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		files, err = filterScenario(files, p, filter)
		return err
	})
	return files, err
}

func filterScenario(files []string, path, filter string) ([]string, error) {
	if filter == "" {
		return append(files, path), nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	matched, err := filepath.Match(filter, name)
	if err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}
	if matched {
		files = append(files, path)
	}
	return files, nil
}

func runScenarioFile(file string, opts *ScenarioOptions, hopts ...harness.Option) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}
	res := ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}

	rendered, err := harness.Render(result.Tree)
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	goldenPath := goldenFilePath(file, opts.Golden, scenario.Name)
	if opts.Update {
		if err := writeGolden(goldenPath, rendered); err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return res
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return res
	}
	if err != nil {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return res
	}
	if !bytes.Equal(golden, []byte(rendered)) {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf("final tree does not match %s (run with --update to regenerate)", goldenPath))
	}
	return res
}

// goldenFilePath places goldens in dir, or in a "golden" directory next to
// the scenario's directory.
func goldenFilePath(scenarioFile, dir, name string) string {
	if dir == "" {
		dir = filepath.Join(filepath.Dir(filepath.Dir(scenarioFile)), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

func writeGolden(path, rendered string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, []byte(rendered), 0o644)
}
