package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/agis/agenda/internal/storage"
	"github.com/spf13/cobra"
)

type statusCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type statusResult struct {
	Ready          bool          `json:"ready"`
	Degraded       bool          `json:"degraded"`
	BaseURL        string        `json:"base_url"`
	Profile        string        `json:"profile"`
	Authenticated  bool          `json:"authenticated"`
	Role           contract.Role `json:"role,omitempty"`
	TokenExpiresAt *time.Time    `json:"token_expires_at,omitempty"`
	TZ             string        `json:"tz,omitempty"`
	OutputMode     string        `json:"output_mode"`
	SchemaVersion  string        `json:"schema_version"`
	Checks         []statusCheck `json:"checks"`
	NextSteps      []string      `json:"next_steps,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agenda %s\n", BuildVersionString())
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session state, backend reachability and active configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, "status")
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, cancel := commandContext(ro)
			defer cancel()

			res := statusResult{
				BaseURL:       ro.BaseURL,
				Profile:       ro.Profile,
				TZ:            ro.TZ,
				OutputMode:    string(p.EffectiveSuccessMode()),
				SchemaVersion: ro.SchemaVersion,
			}
			res.Checks = append(res.Checks, statusCheck{Name: "state_store", Status: "pass", Message: storeLocation(rt.store)})

			snap := rt.session.Snapshot()
			res.Authenticated = snap.Token != ""
			res.Role = snap.Role
			if exp, ok := rt.session.TokenExpiry(); ok {
				exp = exp.UTC()
				res.TokenExpiresAt = &exp
			}
			if res.Authenticated {
				msg := "logged in"
				if snap.User != nil && snap.User.Email != "" {
					msg = "logged in as " + snap.User.Email
				}
				res.Checks = append(res.Checks, statusCheck{Name: "session", Status: "pass", Message: msg})
				res.Checks = append(res.Checks, checkBackend(ctx, rt.api))
				if !rt.session.IsAuthenticated() {
					res.Authenticated = false
					res.Role = ""
					res.TokenExpiresAt = nil
					res.NextSteps = append(res.NextSteps, "Session was rejected by the backend; run `agenda login`")
				}
			} else {
				res.Checks = append(res.Checks, statusCheck{Name: "session", Status: "warn", Message: "not logged in"})
				res.NextSteps = append(res.NextSteps, "Run `agenda login --email <address> --password-stdin`")
			}

			res.Ready = true
			for _, c := range res.Checks {
				switch c.Status {
				case "fail":
					res.Ready = false
				case "warn":
					res.Degraded = true
				}
			}
			if !res.Ready {
				res.NextSteps = append(res.NextSteps, "Check --base-url and that the backend is running")
			}

			meta := map[string]any{
				"ready":    res.Ready,
				"degraded": res.Degraded,
				"checks":   len(res.Checks),
			}
			if p.EffectiveSuccessMode() == output.ModePlain {
				_ = printStatusPlain(cmd.OutOrStdout(), res, time.Now())
			} else {
				_ = successWithMeta(ctx, p, ro, res, meta, nil)
			}
			if !res.Ready {
				return WrapPrinted(exitNetwork, fmt.Errorf("backend not reachable at %s", ro.BaseURL))
			}
			return nil
		},
	}
}

// storeLocation names where the session store lives.
func storeLocation(s storage.Store) string {
	if db, ok := s.(*storage.SQLite); ok {
		return db.Path()
	}
	return "in-memory"
}

// checkBackend issues one authenticated read. A 401 still proves the backend
// is up; the client has already expired the session by then.
func checkBackend(ctx context.Context, api scheduling.Gateway) statusCheck {
	_, err := api.Get(ctx, scheduling.AppointmentsPath)
	switch {
	case err == nil:
		return statusCheck{Name: "backend", Status: "pass", Message: "reachable"}
	case apiclient.HasCode(err, contract.MsgNetworkError):
		return statusCheck{Name: "backend", Status: "fail", Message: err.Error()}
	case apiclient.StatusOf(err) == 401:
		return statusCheck{Name: "backend", Status: "warn", Message: "token rejected"}
	default:
		return statusCheck{Name: "backend", Status: "warn", Message: err.Error()}
	}
}

func printStatusPlain(out io.Writer, res statusResult, now time.Time) error {
	_, _ = fmt.Fprintf(out, "ready=%t degraded=%t base_url=%s profile=%s authenticated=%t output_mode=%s\n", res.Ready, res.Degraded, res.BaseURL, res.Profile, res.Authenticated, res.OutputMode)
	if res.Role != "" {
		_, _ = fmt.Fprintf(out, "role=%s\n", res.Role)
	}
	if res.TokenExpiresAt != nil {
		_, _ = fmt.Fprintf(out, "token expires %s\n", output.Relative(*res.TokenExpiresAt, now))
	}
	for _, c := range res.Checks {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", c.Status, c.Name, c.Message)
	}
	for _, s := range res.NextSteps {
		_, _ = fmt.Fprintf(out, "next: %s\n", s)
	}
	return nil
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := strings.ToLower(args[0])
			switch shell {
			case "bash":
				return root.GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return root.GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return root.GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return root.GenPowerShellCompletion(cmd.OutOrStdout())
			default:
				return Wrap(exitUsage, fmt.Errorf("unsupported shell: %s", shell))
			}
		},
	}
}
