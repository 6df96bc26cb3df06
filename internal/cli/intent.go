package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/intent"
)

// StepView is the printable form of one intent step.
type StepView struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// NewIntentCommand creates the intent command group.
func NewIntentCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Encode and decode intents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode <name[=payload]>...",
		Short: "Build an intent from steps",
		Example: `  grove intent encode open item=42
  /open/item;42`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var steps intent.Intent
			for _, arg := range args {
				name, payload, _ := strings.Cut(arg, "=")
				if name == "" {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid step %q", arg), intent.ErrEmptyStepName)
				}
				steps = append(steps, intent.Named(name, payload))
			}
			wire := intent.Encode(steps)
			return newFormatter(cmd, rootOpts).Emit(wire+"\n", map[string]string{"intent": wire})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <intent>",
		Short: "Print the steps of an encoded intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := intent.Decode(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid intent", err)
			}
			views := make([]StepView, len(steps))
			var b strings.Builder
			for i, s := range steps {
				views[i] = StepView{Name: s.Name, Payload: string(s.Payload)}
				if len(s.Payload) > 0 {
					fmt.Fprintf(&b, "%s\t%s\n", s.Name, s.Payload)
				} else {
					fmt.Fprintf(&b, "%s\n", s.Name)
				}
			}
			return newFormatter(cmd, rootOpts).Emit(b.String(), views)
		},
	})

	return cmd
}
