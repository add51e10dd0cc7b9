package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/timeparse"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	JSON          bool
	JSONL         bool
	Plain         bool
	Fields        string
	Quiet         bool
	Verbose       bool
	NoColor       bool
	NoInput       bool
	Profile       string
	Config        string
	BaseURL       string
	TZ            string
	Timeout       time.Duration
	RateLimit     float64
	LogLevel      string
	SchemaVersion string
}

func Execute() int {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		renderTopLevelError(cmd, err)
	}
	return ExitCode(err)
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{
		Profile:       "default",
		BaseURL:       defaultBaseURL,
		Timeout:       15 * time.Second,
		LogLevel:      "warn",
		SchemaVersion: contract.SchemaVersion,
	}

	root := &cobra.Command{
		Use:           "agenda",
		Short:         "Book and manage medical appointments from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       BuildVersionString(),
	}
	root.SetVersionTemplate("agenda {{.Version}}\n")

	root.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output structured JSON")
	root.PersistentFlags().BoolVar(&opts.JSONL, "jsonl", false, "Output newline-delimited JSON")
	root.PersistentFlags().BoolVar(&opts.Plain, "plain", false, "Output stable plain text")
	root.PersistentFlags().StringVar(&opts.Fields, "fields", "", "Projected fields, comma-separated")
	root.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Reduce success output")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose diagnostics")
	root.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable color output")
	root.PersistentFlags().BoolVar(&opts.NoInput, "no-input", false, "Disable prompts")
	root.PersistentFlags().StringVar(&opts.Profile, "profile", "default", "Config profile; each profile keeps its own session")
	root.PersistentFlags().StringVar(&opts.Config, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&opts.BaseURL, "base-url", defaultBaseURL, "Backend API base URL")
	root.PersistentFlags().StringVar(&opts.TZ, "tz", "", "IANA timezone for parsing and output")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "Per-request timeout (e.g. 10s, 1m, 0 to disable)")
	root.PersistentFlags().Float64Var(&opts.RateLimit, "rate-limit", 0, "Maximum requests per second (0 disables pacing)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "Diagnostic log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&opts.SchemaVersion, "schema-version", contract.SchemaVersion, "Output schema version")

	root.AddCommand(newLoginCmd(opts))
	root.AddCommand(newLogoutCmd(opts))
	root.AddCommand(newWhoamiCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newAppointmentsCmd(opts))
	root.AddCommand(newViewCmd(opts))
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newPatientsCmd(opts))
	root.AddCommand(newProfessionalsCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newCompletionCmd(root))

	return root
}

// buildPrinter resolves options and the output printer without touching the
// session store or the network.
func buildPrinter(cmd *cobra.Command, opts *globalOptions, command string) (output.Printer, *globalOptions, error) {
	resolved, err := resolveGlobalOptions(cmd, opts)
	if err != nil {
		return output.Printer{}, nil, Wrap(exitUsage, err)
	}
	if conflictCount(resolved.JSON, resolved.JSONL, resolved.Plain) > 1 {
		return output.Printer{}, nil, Wrap(exitUsage, errors.New("--json, --jsonl, and --plain are mutually exclusive"))
	}
	mode := output.ModeAuto
	if resolved.JSON {
		mode = output.ModeJSON
	} else if resolved.JSONL {
		mode = output.ModeJSONL
	} else if resolved.Plain {
		mode = output.ModePlain
	}

	printer := output.Printer{
		Mode:          mode,
		Command:       command,
		Fields:        splitCSV(resolved.Fields),
		Quiet:         resolved.Quiet,
		NoColor:       resolved.NoColor,
		SchemaVersion: resolved.SchemaVersion,
		Out:           cmd.OutOrStdout(),
		Err:           cmd.ErrOrStderr(),
	}
	if resolved.Verbose {
		_, _ = fmt.Fprintf(printer.Err, "agenda: command=%s base_url=%s mode=%s tz=%s profile=%s timeout=%s\n", command, resolved.BaseURL, mode, resolved.TZ, resolved.Profile, resolved.Timeout)
	}
	return printer, resolved, nil
}

// buildContext is buildPrinter plus an opened runtime. The caller closes it.
func buildContext(cmd *cobra.Command, opts *globalOptions, command string) (output.Printer, *runtime, *globalOptions, error) {
	printer, resolved, err := buildPrinter(cmd, opts, command)
	if err != nil {
		return printer, nil, nil, err
	}
	rt, err := openRuntime(resolved, printer.Structured(), printer.Err)
	if err != nil {
		return printer, nil, nil, failWithHint(printer, contract.ErrGeneric, err, "Check --base-url and the state directory permissions", exitGeneric)
	}
	return printer, rt, resolved, nil
}

// commandContext carries the timing recorder and is cancelled on interrupt.
// Timeouts apply per request inside the API client.
func commandContext(ro *globalOptions) (context.Context, context.CancelFunc) {
	timing := &timingRecorder{calls: map[string]time.Duration{}}
	base := context.WithValue(context.Background(), timingContextKey{}, timing)
	return signal.NotifyContext(base, os.Interrupt)
}

type timingContextKey struct{}

type timingRecorder struct {
	mu    sync.Mutex
	calls map[string]time.Duration
}

func (r *timingRecorder) add(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name] += d
}

func requestTimings(ctx context.Context) map[string]string {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rec.calls))
	for k := range rec.calls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = rec.calls[k].String()
	}
	return out
}

func recordTiming(ctx context.Context, name string, d time.Duration) {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return
	}
	rec.add(name, d)
}

func successWithMeta(ctx context.Context, p output.Printer, ro *globalOptions, data any, meta map[string]any, warnings []string) error {
	if ro != nil && ro.Verbose {
		timings := requestTimings(ctx)
		if len(timings) > 0 {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["timings"] = timings
			_, _ = fmt.Fprintf(p.Err, "agenda: timings=%v\n", timings)
		}
	}
	return p.Success(data, meta, warnings)
}

func renderTopLevelError(cmd *cobra.Command, err error) {
	var appErr AppError
	if errors.As(err, &appErr) && appErr.Printed {
		return
	}
	if wantsStructuredErrorOutput(os.Args[1:]) {
		printer := output.Printer{
			Mode:          output.ModeJSON,
			SchemaVersion: contract.SchemaVersion,
			Err:           cmd.ErrOrStderr(),
		}
		_ = printer.Error(errorCodeForExit(ExitCode(err)), err.Error(), "")
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", err.Error())
}

func wantsStructuredErrorOutput(args []string) bool {
	for _, arg := range args {
		switch {
		case arg == "--":
			return false
		case arg == "--json", arg == "--jsonl":
			return true
		case strings.HasPrefix(arg, "--json="), strings.HasPrefix(arg, "--jsonl="):
			return true
		}
	}
	return false
}

func errorCodeForExit(code int) contract.ErrorCode {
	switch code {
	case exitUsage:
		return contract.ErrInvalidUsage
	case exitAuth:
		return contract.ErrUnauthenticated
	case exitNotFound:
		return contract.ErrNotFound
	case exitPermission:
		return contract.ErrPermissionDenied
	case exitNetwork:
		return contract.ErrBackendUnavailable
	case exitConflict:
		return contract.ErrConflict
	default:
		return contract.ErrGeneric
	}
}

func resolveLocation(tz string) *time.Location {
	if strings.TrimSpace(tz) != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

// parseRange reads --from/--to. A --to that lands on midnight covers that
// whole day.
func parseRange(fromS, toS string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	from, err := timeparse.ParseDateTime(fromS, now, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := timeparse.ParseDateTime(toS, now, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must not be earlier than --from")
	}
	if to.Hour() == 0 && to.Minute() == 0 && to.Second() == 0 {
		to = to.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func resolveEnd(endS, durationS string, start time.Time, now time.Time, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(endS) != "" && strings.TrimSpace(durationS) != "" {
		return time.Time{}, fmt.Errorf("use either --end or --duration, not both")
	}
	if strings.TrimSpace(endS) != "" {
		end, err := timeparse.ParseDateTime(endS, now, loc)
		if err != nil {
			return time.Time{}, err
		}
		if !end.After(start) {
			return time.Time{}, fmt.Errorf("--end must be after --start")
		}
		return end, nil
	}
	if strings.TrimSpace(durationS) != "" {
		d, err := timeparse.ParseDuration(durationS)
		if err != nil {
			return time.Time{}, err
		}
		return start.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("missing --end or --duration")
}

func stdinInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func promptConfirmID(in io.Reader, out io.Writer, what, expected string) (bool, error) {
	if _, err := fmt.Fprintf(out, "Type the %s id to confirm: ", what); err != nil {
		return false, err
	}
	var entered string
	if _, err := fmt.Fscanln(in, &entered); err != nil {
		return false, err
	}
	return strings.TrimSpace(entered) == strings.TrimSpace(expected), nil
}

func conflictCount(vals ...bool) int {
	total := 0
	for _, v := range vals {
		if v {
			total++
		}
	}
	return total
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
