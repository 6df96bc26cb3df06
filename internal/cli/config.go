package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with runtime configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a config file and print the effective settings",
		Long: `Validate a CUE config file against the runtime schema and print the
effective settings, with defaults filled in. Without a file argument the
--config file is checked, or the defaults are printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}

			cfg := config.Default()
			if path != "" {
				var err error
				cfg, err = config.Load(path)
				if err != nil {
					if out.JSON() {
						return out.Fail("E_INVALID_CONFIG", err.Error(), nil)
					}
					return WrapExitError(ExitFailure, "invalid config", err)
				}
			}
			return out.Emit(describeConfig(cfg), cfg)
		},
	})

	return cmd
}

func describeConfig(cfg config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "max_evaluations     %d\n", cfg.MaxEvaluations)
	fmt.Fprintf(&b, "track_behaviors     %t\n", cfg.TrackBehaviors)
	fmt.Fprintf(&b, "consistency_checks  %t\n", cfg.ConsistencyChecks)
	fmt.Fprintf(&b, "notification_buffer %d\n", cfg.NotificationBuffer)
	if cfg.Archive != nil {
		fmt.Fprintf(&b, "archive.path        %s\n", cfg.Archive.Path)
		fmt.Fprintf(&b, "archive.keep        %d\n", cfg.Archive.Keep)
	} else {
		fmt.Fprintf(&b, "archive             disabled\n")
	}
	fmt.Fprintf(&b, "log.level           %s\n", cfg.Log.Level)
	return b.String()
}
