package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/agis/agenda/internal/timeparse"
	"github.com/spf13/cobra"
)

type slotsReport struct {
	ProfessionalID string             `json:"professional_id"`
	Window         string             `json:"window"`
	Busy           []scheduling.Block `json:"busy"`
	Slots          []scheduling.Slot  `json:"slots"`
}

func newSlotsCmd(opts *globalOptions) *cobra.Command {
	var professional, fromS, toS, between, durationS, stepS string
	var busyOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Find free booking slots for a professional",
		Example: "  agenda slots --professional pro-1 --from tomorrow --to +7d --duration 45m\n" +
			"  agenda slots --professional pro-1 --busy",
		RunE: func(c *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(c, opts, "slots")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p); err != nil {
				return err
			}
			if snap := rt.session.Snapshot(); strings.TrimSpace(professional) == "" && rt.session.IsProfessional() && snap.User != nil {
				professional = snap.User.ProfileID
			}
			if strings.TrimSpace(professional) == "" {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("--professional is required"), "Run `agenda professionals list` to find an id", exitUsage)
			}
			if limit < 0 {
				return failWithHint(p, contract.ErrInvalidUsage, errInvalidLimit, "Use --limit 0 for no limit", exitUsage)
			}
			dur, err := timeparse.ParseDuration(durationS)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --duration like 30m or 1h", exitUsage)
			}
			step, err := timeparse.ParseDuration(stepS)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --step like 15m or 30m", exitUsage)
			}
			if step > dur {
				return failWithHint(p, contract.ErrInvalidUsage, fmt.Errorf("--step must not exceed --duration"), "Set --step <= --duration", exitUsage)
			}
			window, err := scheduling.ParseWindow(between)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --between HH:MM-HH:MM", exitUsage)
			}
			now := time.Now()
			from, to, err := parseRange(fromS, toS, now, resolveLocation(ro.TZ))
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
			}
			if from.Before(now) {
				from = now.Truncate(time.Minute)
			}

			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := rt.sched.FetchAppointments(ctx)
			if err != nil {
				return failRequest(p, err, nil)
			}
			blocks := scheduling.BusyBlocks(professional, scheduling.PersonProfessional, items)
			if busyOnly {
				minutes := int64(0)
				for _, b := range blocks {
					minutes += b.Minutes
				}
				return successWithMeta(ctx, p, ro, blocks, map[string]any{"count": len(blocks), "busy_minutes": minutes, "appointments_scanned": len(items)}, nil)
			}
			slots := scheduling.FreeSlots(blocks, from, to, window, dur, step)
			if limit > 0 && len(slots) > limit {
				slots = slots[:limit]
			}
			meta := map[string]any{
				"count":                len(slots),
				"duration_minutes":     int64(dur.Minutes()),
				"window":               window.String(),
				"appointments_scanned": len(items),
			}
			if p.Structured() {
				if blocks == nil {
					blocks = []scheduling.Block{}
				}
				if slots == nil {
					slots = []scheduling.Slot{}
				}
				return successWithMeta(ctx, p, ro, slotsReport{ProfessionalID: professional, Window: window.String(), Busy: blocks, Slots: slots}, meta, nil)
			}
			return p.Success(slots, meta, nil)
		},
	}
	cmd.Flags().StringVar(&professional, "professional", "", "Professional id (professionals default to themselves)")
	cmd.Flags().StringVar(&fromS, "from", "today", "Range start")
	cmd.Flags().StringVar(&toS, "to", "+7d", "Range end")
	cmd.Flags().StringVar(&between, "between", scheduling.DefaultWindow.String(), "Daily window as HH:MM-HH:MM")
	cmd.Flags().StringVar(&durationS, "duration", "30m", "Required slot duration")
	cmd.Flags().StringVar(&stepS, "step", "15m", "Candidate step")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum slots (0 for all)")
	cmd.Flags().BoolVar(&busyOnly, "busy", false, "Show merged busy blocks instead of free slots")
	return cmd
}
