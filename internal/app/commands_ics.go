package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/spf13/cobra"
)

const (
	icsPatientProp      = "X-AGENDA-PATIENT"
	icsProfessionalProp = "X-AGENDA-PROFESSIONAL"
)

func newAppointmentsExportCmd(opts *globalOptions) *cobra.Command {
	var fromS, toS, outPath, patient, professional string
	var includeCancelled bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export appointments to ICS",
		RunE: func(c *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(c, opts, "appointments.export")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p); err != nil {
				return err
			}
			f := appointmentFilter{PatientID: patient, ProfessionalID: professional, IncludeCancelled: includeCancelled}
			f.From, f.To, err = parseRange(fromS, toS, time.Now(), resolveLocation(ro.TZ))
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := rt.sched.FetchAppointments(ctx)
			if err != nil {
				return failRequest(p, err, nil)
			}
			items = f.apply(items)
			ics := buildICS(items, time.Now())
			meta := map[string]any{"count": len(items)}
			if strings.TrimSpace(outPath) != "" {
				if err := os.WriteFile(outPath, []byte(ics), 0o600); err != nil {
					return failWithHint(p, contract.ErrGeneric, err, "Check destination path permissions", exitGeneric)
				}
				return successWithMeta(ctx, p, ro, map[string]any{"path": outPath, "appointments": len(items)}, meta, nil)
			}
			if m := p.EffectiveSuccessMode(); m == output.ModeJSON || m == output.ModeJSONL {
				return successWithMeta(ctx, p, ro, map[string]any{"ics": ics, "appointments": len(items)}, meta, nil)
			}
			_, _ = fmt.Fprint(c.OutOrStdout(), ics)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromS, "from", "today", "Range start")
	cmd.Flags().StringVar(&toS, "to", "+30d", "Range end")
	cmd.Flags().StringVar(&patient, "patient", "", "Only this patient id")
	cmd.Flags().StringVar(&professional, "professional", "", "Only this professional id")
	cmd.Flags().BoolVar(&includeCancelled, "include-cancelled", false, "Export cancelled appointments as STATUS:CANCELLED")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")
	return cmd
}

func newAppointmentsImportCmd(opts *globalOptions) *cobra.Command {
	var filePath, patient, professional, as string
	var dryRun, strict bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Book appointments from an ICS file",
		Long: "Each VEVENT becomes one booking. X-AGENDA-PATIENT and X-AGENDA-PROFESSIONAL\n" +
			"override --patient and --professional per event; DESCRIPTION becomes the notes.",
		RunE: func(c *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(c, opts, "appointments.import")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p); err != nil {
				return err
			}
			role, err := bookingRole(rt, as)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --as admin|professional|patient", exitUsage)
			}
			if err := rt.requireRole(p, role); err != nil {
				return err
			}
			if strings.TrimSpace(filePath) == "" {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("--file is required"), "Pass --file <path> or --file - for stdin", exitUsage)
			}
			raw, err := readICSInput(c.InOrStdin(), filePath)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Check --file path or stdin data", exitUsage)
			}
			drafts, warnings := parseICS(raw, scheduling.Draft{PatientID: patient, ProfessionalID: professional}, resolveLocation(ro.TZ))
			if len(drafts) == 0 {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("no importable VEVENT entries"), "Validate ICS content and DTSTART/DTEND fields", exitUsage)
			}
			if strict && len(warnings) > 0 {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("strict import rejected warnings"), "Fix ICS warnings or omit --strict", exitUsage)
			}
			if dryRun {
				return p.Success(drafts, map[string]any{"count": len(drafts), "dry_run": true, "warnings": len(warnings)}, warnings)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			created := make([]scheduling.Outcome, 0, len(drafts))
			for _, d := range drafts {
				out, err := saveAs(ctx, rt.sched, role, d)
				progress := map[string]any{"booked": len(created), "requested": len(drafts)}
				if err != nil {
					return failRequest(p, err, progress)
				}
				if !out.Accepted {
					return failOutcome(p, out, progress)
				}
				created = append(created, out)
				entry := historyEntry{Type: historyBook, MessageCode: out.Code, Next: out.Appointment}
				if out.Appointment != nil {
					entry.AppointmentID = out.Appointment.ID
				}
				if herr := appendHistory(ro.Profile, entry); herr != nil {
					warnings = append(warnings, "journal write failed: "+herr.Error())
				}
			}
			meta := rt.mutationMeta()
			meta["count"] = len(created)
			meta["warnings"] = len(warnings)
			return successWithMeta(ctx, p, ro, created, meta, warnings)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "ICS file path or - for stdin")
	cmd.Flags().StringVar(&patient, "patient", "", "Default patient id")
	cmd.Flags().StringVar(&professional, "professional", "", "Default professional id")
	cmd.Flags().StringVar(&as, "as", "", "Book as admin|professional|patient (default: session role)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview import without booking")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat parser warnings as errors")
	return cmd
}

func buildICS(items []contract.Appointment, now time.Time) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//agenda//EN\r\n")
	b.WriteString("CALSCALE:GREGORIAN\r\n")
	stamp := now.UTC().Format("20060102T150405Z")
	for _, a := range items {
		uid := a.ID
		if uid == "" {
			uid = fmt.Sprintf("agenda-%d", a.StartDate.Unix())
		}
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString("UID:" + escapeICSText(uid) + "\r\n")
		b.WriteString("DTSTAMP:" + stamp + "\r\n")
		b.WriteString("DTSTART:" + a.StartDate.UTC().Format("20060102T150405Z") + "\r\n")
		b.WriteString("DTEND:" + a.EndDate.UTC().Format("20060102T150405Z") + "\r\n")
		b.WriteString("SUMMARY:" + escapeICSText("Appointment "+uid) + "\r\n")
		if strings.TrimSpace(a.Notes) != "" {
			b.WriteString("DESCRIPTION:" + escapeICSText(a.Notes) + "\r\n")
		}
		if a.Status.Cancelled {
			b.WriteString("STATUS:CANCELLED\r\n")
		} else {
			b.WriteString("STATUS:CONFIRMED\r\n")
		}
		b.WriteString(icsPatientProp + ":" + escapeICSText(a.PatientID) + "\r\n")
		b.WriteString(icsProfessionalProp + ":" + escapeICSText(a.ProfessionalID) + "\r\n")
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func escapeICSText(v string) string {
	replacer := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n", "\r", "")
	return replacer.Replace(v)
}

func unescapeICSText(v string) string {
	replacer := strings.NewReplacer("\\\\", "\\", "\\;", ";", "\\,", ",", "\\n", "\n", "\\N", "\n")
	return replacer.Replace(v)
}

func readICSInput(stdin io.Reader, path string) (string, error) {
	if strings.TrimSpace(path) == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseICS turns VEVENTs into drafts. Cancelled and all-day events are
// skipped with a warning.
func parseICS(raw string, defaults scheduling.Draft, loc *time.Location) ([]scheduling.Draft, []string) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	inEvent := false
	kv := map[string]string{}
	items := make([]scheduling.Draft, 0)
	warnings := make([]string, 0)
	flush := func() {
		if !inEvent {
			return
		}
		uid := kv["UID"]
		if strings.EqualFold(kv["STATUS"], "CANCELLED") {
			warnings = append(warnings, "skipped cancelled VEVENT "+uid)
			return
		}
		start, allDayStart, okStart := parseICSDate(kv["DTSTART"], loc)
		end, allDayEnd, okEnd := parseICSDate(kv["DTEND"], loc)
		if !okStart || !okEnd || !end.After(start) {
			warnings = append(warnings, "skipped VEVENT with invalid DTSTART/DTEND")
			return
		}
		if allDayStart || allDayEnd {
			warnings = append(warnings, "skipped all-day VEVENT "+uid)
			return
		}
		d := defaults
		d.Start = start
		d.End = end
		d.Notes = unescapeICSText(kv["DESCRIPTION"])
		if v := kv[icsPatientProp]; v != "" {
			d.PatientID = unescapeICSText(v)
		}
		if v := kv[icsProfessionalProp]; v != "" {
			d.ProfessionalID = unescapeICSText(v)
		}
		items = append(items, d)
	}

	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch s {
		case "BEGIN:VEVENT":
			inEvent = true
			kv = map[string]string{}
			continue
		case "END:VEVENT":
			flush()
			inEvent = false
			kv = map[string]string{}
			continue
		}
		if !inEvent || s == "" {
			continue
		}
		keyRaw, value, ok := strings.Cut(s, ":")
		if !ok {
			continue
		}
		keyRaw = strings.TrimSpace(keyRaw)
		value = strings.TrimSpace(value)
		name, _, _ := strings.Cut(keyRaw, ";")
		key := strings.ToUpper(name)
		if key == "DTSTART" || key == "DTEND" {
			kv[key] = keyRaw + ":" + value
			continue
		}
		kv[key] = value
	}
	return items, warnings
}

func parseICSDate(raw string, loc *time.Location) (time.Time, bool, bool) {
	key, val, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return time.Time{}, false, false
	}
	val = strings.TrimSpace(val)
	if upper := strings.ToUpper(key); strings.Contains(upper, "VALUE=DATE") && !strings.Contains(upper, "VALUE=DATE-TIME") {
		t, err := time.ParseInLocation("20060102", val, loc)
		if err != nil {
			return time.Time{}, true, false
		}
		return t, true, true
	}
	if strings.HasSuffix(val, "Z") {
		if t, err := time.Parse("20060102T150405Z", val); err == nil {
			return t, false, true
		}
	}
	if _, tzid, found := strings.Cut(key, "TZID="); found {
		tzid, _, _ = strings.Cut(tzid, ";")
		if tz, err := time.LoadLocation(tzid); err == nil {
			loc = tz
		}
	}
	t, err := time.ParseInLocation("20060102T150405", val, loc)
	if err != nil {
		return time.Time{}, false, false
	}
	return t, false, true
}
