package app

import (
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/spf13/cobra"
)

type viewFlags struct {
	patient          string
	professional     string
	includeCancelled bool
	limit            int
	summary          bool
}

func (f *viewFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.patient, "patient", "", "Only this patient id")
	cmd.Flags().StringVar(&f.professional, "professional", "", "Only this professional id")
	cmd.Flags().BoolVar(&f.includeCancelled, "include-cancelled", false, "Include cancelled appointments")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Limit results")
	cmd.Flags().BoolVar(&f.summary, "summary", false, "Group by day with counts")
}

func newViewCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Calendar views of appointments",
	}
	cmd.AddCommand(newDayViewCmd(opts))
	cmd.AddCommand(newWeekViewCmd(opts))
	cmd.AddCommand(newMonthViewCmd(opts))
	return cmd
}

func newDayViewCmd(opts *globalOptions) *cobra.Command {
	var day string
	var vf viewFlags
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Appointments for a day (defaults to today)",
		RunE: func(c *cobra.Command, _ []string) error {
			return runView(c, opts, "view.day", vf, func(loc *time.Location) (calendarRange, map[string]any, error) {
				anchor, err := parseDaySelector(day, time.Now(), loc)
				if err != nil {
					return calendarRange{}, nil, err
				}
				r := dayRange(anchor)
				return r, map[string]any{"view": "day", "day": r.Start.Format(dateLayout)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "today", "Day selector")
	vf.bind(cmd)
	return cmd
}

func newWeekViewCmd(opts *globalOptions) *cobra.Command {
	var of, weekStart string
	var vf viewFlags
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Appointments for a week",
		RunE: func(c *cobra.Command, _ []string) error {
			return runView(c, opts, "view.week", vf, func(loc *time.Location) (calendarRange, map[string]any, error) {
				anchor, err := parseDaySelector(of, time.Now(), loc)
				if err != nil {
					return calendarRange{}, nil, err
				}
				ws, err := parseWeekStart(weekStart)
				if err != nil {
					return calendarRange{}, nil, err
				}
				r := weekRange(anchor, ws)
				return r, map[string]any{
					"view":       "week",
					"from":       r.Start.Format(dateLayout),
					"to":         r.lastDay().Format(dateLayout),
					"week_start": ws.String(),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&of, "of", "today", "Date selector within target week")
	cmd.Flags().StringVar(&weekStart, "week-start", "monday", "Week start day: monday|sunday")
	vf.bind(cmd)
	return cmd
}

func newMonthViewCmd(opts *globalOptions) *cobra.Command {
	var month string
	var vf viewFlags
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Appointments for a month",
		RunE: func(c *cobra.Command, _ []string) error {
			return runView(c, opts, "view.month", vf, func(loc *time.Location) (calendarRange, map[string]any, error) {
				anchor, err := parseDaySelector(month, time.Now(), loc)
				if err != nil {
					return calendarRange{}, nil, err
				}
				r := monthRange(anchor)
				return r, map[string]any{"view": "month", "month": r.Start.Format("2006-01")}, nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "today", "Month as YYYY-MM, or any day inside it")
	vf.bind(cmd)
	return cmd
}

type viewBounds func(loc *time.Location) (calendarRange, map[string]any, error)

func runView(c *cobra.Command, opts *globalOptions, name string, vf viewFlags, bounds viewBounds) error {
	p, rt, ro, err := buildContext(c, opts, name)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.requireRole(p); err != nil {
		return err
	}
	if vf.limit < 0 {
		return failWithHint(p, contract.ErrInvalidUsage, errInvalidLimit, "Use --limit 0 for no limit", exitUsage)
	}
	loc := resolveLocation(ro.TZ)
	r, meta, err := bounds(loc)
	if err != nil {
		return failWithHint(p, contract.ErrInvalidUsage, err, "Use today, tomorrow, +Nd, YYYY-MM-DD or YYYY-MM", exitUsage)
	}
	ctx, cancel := commandContext(ro)
	defer cancel()
	items, err := rt.sched.FetchAppointments(ctx)
	if err != nil {
		return failRequest(p, err, nil)
	}
	f := appointmentFilter{From: r.Start, To: r.End, PatientID: vf.patient, ProfessionalID: vf.professional, IncludeCancelled: vf.includeCancelled || vf.summary}
	items = f.apply(items)
	if vf.summary {
		rows := summarizeAppointmentsByDay(items, r, loc)
		meta["count"] = len(rows)
		meta["summary"] = true
		return successWithMeta(ctx, p, ro, rows, meta, nil)
	}
	if vf.limit > 0 && len(items) > vf.limit {
		items = items[:vf.limit]
	}
	meta["count"] = len(items)
	plainFields(&p, defaultAppointmentFields)
	return successWithMeta(ctx, p, ro, items, meta, nil)
}
