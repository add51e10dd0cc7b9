package app

import (
	"github.com/agis/agenda/internal/contract"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Inspect and undo this profile's write journal"}

	var limit, offset int
	var strandedOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent journal entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, ro, err := buildPrinter(cmd, opts, "history.list")
			if err != nil {
				return err
			}
			if limit <= 0 {
				return failWithHint(p, contract.ErrInvalidUsage, errInvalidLimit, "Use a positive --limit", exitUsage)
			}
			var entries []historyEntry
			hasMore := false
			if strandedOnly {
				all, rerr := readHistory(ro.Profile)
				if rerr != nil {
					return failWithHint(p, contract.ErrGeneric, rerr, "Check history file permissions", exitGeneric)
				}
				for _, e := range all {
					if e.Stranded {
						entries = append(entries, e)
					}
				}
			} else {
				entries, hasMore, err = readHistoryPage(ro.Profile, limit, offset)
				if err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use a non-negative --offset", exitUsage)
				}
			}
			if entries == nil {
				entries = []historyEntry{}
			}
			meta := map[string]any{"count": len(entries), "has_more": hasMore, "limit": limit, "offset": offset}
			return p.Success(entries, meta, nil)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	list.Flags().IntVar(&offset, "offset", 0, "Skip this many newest entries")
	list.Flags().BoolVar(&strandedOnly, "stranded", false, "Only moves that left an appointment cancelled without a replacement")

	var dryRun bool
	undo := &cobra.Command{
		Use:   "undo",
		Short: "Undo the latest booking, cancellation or move",
		Long: "Undo reverts the newest journal entry: a booking is cancelled, a cancellation is restored,\n" +
			"and a move cancels the replacement and restores the original. A stranded move only restores the original.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, "history.undo")
			if err != nil {
				return err
			}
			defer rt.Close()
			if !dryRun {
				if err := rt.requireRole(p); err != nil {
					return err
				}
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			entry, meta, err := undoLastHistory(ctx, rt.sched, ro.Profile, dryRun)
			if err != nil {
				return failError(p, err, "Run `agenda history list` to inspect entries")
			}
			if dryRun {
				meta["undone"] = false
			}
			p.Alert(rt.sched.Alert())
			return successWithMeta(ctx, p, ro, entry, meta, nil)
		},
	}
	undo.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview undo without writing")

	history.AddCommand(list, undo)
	return history
}
