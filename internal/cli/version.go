package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/ir"
)

// NewVersionCommand prints the runtime and snapshot format versions.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]string{
				"runtime":  ir.RuntimeVersion,
				"snapshot": ir.SnapshotVersion,
			}
			text := fmt.Sprintf("grove %s (snapshot format %s)\n", ir.RuntimeVersion, ir.SnapshotVersion)
			return newFormatter(cmd, rootOpts).Emit(text, data)
		},
	}
}
