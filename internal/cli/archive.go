package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/ir"
	"github.com/roach88/grove/internal/store"
)

// ArchiveOptions holds flags shared by archive subcommands.
type ArchiveOptions struct {
	*RootOptions
	DB string // archive database path
}

// EntryView is the printable form of an archive entry.
type EntryView struct {
	Seq       int64     `json:"seq"`
	Root      ir.NodeID `json:"root"`
	Digest    string    `json:"digest"`
	Nodes     int       `json:"nodes"`
	HasIntent bool      `json:"has_intent"`
	Encoding  string    `json:"encoding"`
	Runtime   string    `json:"runtime"`
}

func viewEntry(e store.Entry) EntryView {
	return EntryView{
		Seq:       e.Seq,
		Root:      e.Root,
		Digest:    e.Digest,
		Nodes:     e.NodeCount,
		HasIntent: e.HasIntent,
		Encoding:  e.Encoding,
		Runtime:   e.Runtime,
	}
}

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect a snapshot archive",
		Long: `Inspect the SQLite snapshot archive written by a runtime.

The archive is --db, or archive.path from the --config file.`,
	}
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the archive database")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, opts, func(ctx context.Context, a *store.Archive, out *OutputFormatter) error {
				entries, err := a.List(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list snapshots", err)
				}
				views := make([]EntryView, len(entries))
				var b strings.Builder
				if len(entries) == 0 {
					b.WriteString("No snapshots archived.\n")
				}
				for i, e := range entries {
					views[i] = viewEntry(e)
					fmt.Fprintf(&b, "%6d  %s  nodes=%d intent=%t\n", e.Seq, shortDigest(e.Digest), e.NodeCount, e.HasIntent)
				}
				return out.Emit(b.String(), views)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <seq>",
		Short: "Print one archived snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid seq", err)
			}
			return withArchive(cmd, opts, func(ctx context.Context, a *store.Archive, out *OutputFormatter) error {
				entry, tree, err := a.Get(ctx, seq)
				return showEntry(out, entry, tree, err)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Print the most recent archived snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, opts, func(ctx context.Context, a *store.Archive, out *OutputFormatter) error {
				entry, tree, err := a.Latest(ctx)
				return showEntry(out, entry, tree, err)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check every archived snapshot against its digest",
		Long: `Decode every archived snapshot, recompute its digest and validate
its structure.

Exit codes:
  0 - Every snapshot verified
  1 - One or more snapshots failed verification
  2 - Archive could not be opened`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, opts, func(ctx context.Context, a *store.Archive, out *OutputFormatter) error {
				issues, err := a.Verify(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to verify archive", err)
				}
				if len(issues) > 0 {
					if out.JSON() {
						return out.Fail("E_ARCHIVE_CORRUPT", fmt.Sprintf("%d snapshot(s) failed verification", len(issues)), issues)
					}
					for _, issue := range issues {
						fmt.Fprintf(out.Writer, "✗ seq %d: %s\n", issue.Seq, issue.Problem)
					}
					return NewExitError(ExitFailure, fmt.Sprintf("%d snapshot(s) failed verification", len(issues)))
				}
				return out.Emit("✓ archive verified\n", map[string]bool{"verified": true})
			})
		},
	})

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 1 {
				return NewExitError(ExitCommandError, "--keep must be at least 1")
			}
			return withArchive(cmd, opts, func(ctx context.Context, a *store.Archive, out *OutputFormatter) error {
				n, err := a.Prune(ctx, keep)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to prune archive", err)
				}
				return out.Emit(fmt.Sprintf("pruned %d snapshot(s)\n", n), map[string]int64{"pruned": n})
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 10, "number of snapshots to keep")
	cmd.AddCommand(prune)

	return cmd
}

// withArchive resolves the archive path, opens it and runs fn.
func withArchive(cmd *cobra.Command, opts *ArchiveOptions, fn func(context.Context, *store.Archive, *OutputFormatter) error) error {
	path := opts.DB
	if path == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		if cfg.Archive != nil {
			path = cfg.Archive.Path
		}
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no archive: pass --db or a config with archive.path")
	}

	a, err := store.OpenArchive(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer a.Close()

	out := newFormatter(cmd, opts.RootOptions)
	out.VerboseLog("archive: %s", path)
	return fn(cmd.Context(), a, out)
}

func showEntry(out *OutputFormatter, entry store.Entry, tree ir.TreeStateRecord, err error) error {
	if errors.Is(err, store.ErrNoSnapshot) {
		return WrapExitError(ExitFailure, "snapshot not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load snapshot", err)
	}

	report := reportSnapshot(tree)
	data := struct {
		Entry    EntryView      `json:"entry"`
		Snapshot SnapshotReport `json:"snapshot"`
	}{viewEntry(entry), report}

	var b strings.Builder
	fmt.Fprintf(&b, "seq %d  digest %s  runtime %s\n", entry.Seq, entry.Digest, entry.Runtime)
	b.WriteString(report.Tree)
	return out.Emit(b.String(), data)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
