package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/output"
	"github.com/agis/agenda/internal/scheduling"
	"github.com/agis/agenda/internal/session"
	"github.com/agis/agenda/internal/validate"
	"github.com/spf13/cobra"
)

type whoamiResult struct {
	Authenticated  bool           `json:"authenticated"`
	User           *contract.User `json:"user,omitempty"`
	Role           contract.Role  `json:"role,omitempty"`
	ProfileID      string         `json:"profile_id,omitempty"`
	TokenExpiresAt *time.Time     `json:"token_expires_at,omitempty"`
	ExpiresIn      string         `json:"expires_in,omitempty"`
}

func sessionView(m *session.Manager, now time.Time) whoamiResult {
	snap := m.Snapshot()
	res := whoamiResult{
		Authenticated: snap.Token != "",
		User:          snap.User,
		Role:          snap.Role,
	}
	if snap.User != nil {
		res.ProfileID = snap.User.ProfileID
	}
	if exp, ok := m.TokenExpiry(); ok {
		exp = exp.UTC()
		res.TokenExpiresAt = &exp
		res.ExpiresIn = output.Relative(exp, now)
	}
	return res
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var email string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start a session and store its token for this profile",
		Example: "  printf '%s' \"$PASS\" | agenda login --email ana@clinic.es --password-stdin\n" +
			"  AGENDA_PASSWORD=secret agenda login --email ana@clinic.es",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, "login")
			if err != nil {
				return err
			}
			defer rt.Close()

			password, err := readPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Pipe the password with --password-stdin or set AGENDA_PASSWORD", exitUsage)
			}
			if err := validate.Validate(
				validate.Field{Name: "email", Value: email, Rules: []validate.Rule{validate.Required, validate.Email}},
				validate.Field{Name: "password", Value: password, Rules: []validate.Rule{validate.Required}},
			); err != nil {
				var verr *validate.Error
				if errors.As(err, &verr) {
					return failOutcome(p, scheduling.Outcome{Code: contract.MsgValidationFailed, Details: issueDetails(verr.Issues)}, nil)
				}
				return failWithHint(p, contract.ErrInvalidUsage, err, "", exitUsage)
			}

			ctx, cancel := commandContext(ro)
			defer cancel()
			res := rt.session.Login(ctx, email, password)
			if !res.Success {
				exit := exitForMessage(res.Error, 0)
				err := errors.New(res.Error)
				if res.Err != nil {
					err = fmt.Errorf("%s: %w", res.Error, res.Err)
				}
				return failWithHint(p, errorCodeForExit(exit), err, hintForLogin(res.Error), exit)
			}
			return successWithMeta(ctx, p, ro, sessionView(rt.session, time.Now()), map[string]any{"profile": ro.Profile}, nil)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func hintForLogin(code string) string {
	switch code {
	case contract.MsgInvalidCredentials:
		return "Check the email and password"
	case contract.MsgNetworkError:
		return hintForExit(exitNetwork)
	}
	return ""
}

// readPassword takes the first line of stdin with --password-stdin, otherwise
// AGENDA_PASSWORD.
func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		pw := strings.TrimRight(line, "\r\n")
		if pw == "" {
			return "", fmt.Errorf("empty password on stdin")
		}
		return pw, nil
	}
	if pw := os.Getenv("AGENDA_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", fmt.Errorf("no password given")
}

func issueDetails(issues []validate.Issue) []contract.FieldDetail {
	out := make([]contract.FieldDetail, 0, len(issues))
	for _, is := range issues {
		out = append(out, contract.FieldDetail{Field: is.Field, Code: is.Code})
	}
	return out
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on the server and clear it locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, "logout")
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, cancel := commandContext(ro)
			defer cancel()
			wasAuthenticated := rt.session.IsAuthenticated()
			if err := rt.session.Logout(ctx); err != nil {
				return failWithHint(p, contract.ErrGeneric, err, "Check the state directory permissions", exitGeneric)
			}
			data := map[string]any{
				"logged_out":        true,
				"was_authenticated": wasAuthenticated,
				"next":              rt.nextView,
			}
			return successWithMeta(ctx, p, ro, data, nil, nil)
		},
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, rt, ro, err := buildContext(cmd, opts, "whoami")
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRole(p); err != nil {
				return err
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			return successWithMeta(ctx, p, ro, sessionView(rt.session, time.Now()), nil, nil)
		},
	}
}
