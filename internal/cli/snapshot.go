package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/harness"
	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
)

// SnapshotReport describes one snapshot file.
type SnapshotReport struct {
	Digest string    `json:"digest"`
	Root   ir.NodeID `json:"root"`
	Nodes  int       `json:"nodes"`
	Intent string    `json:"intent,omitempty"`
	Valid  bool      `json:"valid"`
	Issues []string  `json:"issues,omitempty"`
	Tree   string    `json:"tree,omitempty"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect snapshot JSON files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <file|->",
		Short: "Validate a snapshot and print its tree",
		Long: `Validate a snapshot file and print its tree outline and digest.

Exit codes:
  0 - Snapshot is valid
  1 - Snapshot has structural problems
  2 - File could not be read or parsed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectSnapshot(cmd, rootOpts, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "digest <file|->",
		Short: "Print the content digest of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := readSnapshot(cmd, args[0])
			if err != nil {
				return err
			}
			digest, err := tree.Digest()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to digest snapshot", err)
			}
			return newFormatter(cmd, rootOpts).Emit(digest+"\n", map[string]string{"digest": digest})
		},
	})

	return cmd
}

// readSnapshot loads a TreeStateRecord from path, or stdin for "-".
func readSnapshot(cmd *cobra.Command, path string) (ir.TreeStateRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return ir.TreeStateRecord{}, WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	var tree ir.TreeStateRecord
	if err := json.Unmarshal(data, &tree); err != nil {
		return ir.TreeStateRecord{}, WrapExitError(ExitCommandError, "failed to parse snapshot", err)
	}
	return tree, nil
}

func reportSnapshot(tree ir.TreeStateRecord) SnapshotReport {
	report := SnapshotReport{
		Root:   tree.Root,
		Nodes:  len(tree.Nodes),
		Intent: intent.FromRecord(tree.Intent).String(),
		Valid:  true,
	}
	for _, issue := range tree.Validate() {
		report.Issues = append(report.Issues, issue.Error())
	}
	if len(report.Issues) > 0 {
		report.Valid = false
		return report
	}
	if digest, err := tree.Digest(); err == nil {
		report.Digest = digest
	} else {
		report.Valid = false
		report.Issues = append(report.Issues, err.Error())
	}
	if rendered, err := harness.Render(tree); err == nil {
		report.Tree = rendered
	}
	return report
}

func inspectSnapshot(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	out := newFormatter(cmd, rootOpts)
	tree, err := readSnapshot(cmd, path)
	if err != nil {
		return err
	}

	report := reportSnapshot(tree)
	if !report.Valid {
		if out.JSON() {
			return out.Fail("E_INVALID_SNAPSHOT", "snapshot is invalid", report)
		}
		fmt.Fprintf(out.Writer, "✗ %s: %d problem(s)\n", path, len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Fprintf(out.Writer, "  %s\n", issue)
		}
		return NewExitError(ExitFailure, "snapshot is invalid")
	}

	var b strings.Builder
	b.WriteString(report.Tree)
	fmt.Fprintf(&b, "digest %s\n", report.Digest)
	return out.Emit(b.String(), report)
}
