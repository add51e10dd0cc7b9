package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/agis/agenda/internal/contract"
)

func TestVersionCommand(t *testing.T) {
	SetBuildInfo("v9.9.9", "abc", "2026-02-17T00:00:00Z")
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "agenda v9.9.9 (abc) 2026-02-17T00:00:00Z") {
		t.Fatalf("unexpected version output: %q", got)
	}
}

func TestCompletionInvalidShellExitCode(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"completion", "tcsh"})
	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected error")
	}
	if code := ExitCode(err); code != 2 {
		t.Fatalf("exit code mismatch: got=%d want=2", code)
	}
}

func TestStatusCommandLoggedIn(t *testing.T) {
	c := newCLI(t, contract.RoleProfessional)
	doc := c.run("status", "--json").success(t)
	if doc.Command != "status" {
		t.Fatalf("unexpected command: %s", doc.Command)
	}
	res := decodeData[statusResult](t, doc)
	if !res.Ready || res.Degraded || !res.Authenticated || res.Role != contract.RoleProfessional {
		t.Fatalf("unexpected status: %+v", res)
	}
	if len(res.Checks) != 3 || res.Checks[2].Name != "backend" || res.Checks[2].Status != "pass" {
		t.Fatalf("unexpected checks: %+v", res.Checks)
	}
}

func TestStatusCommandLoggedOutIsDegraded(t *testing.T) {
	c := newCLI(t, "")
	res := decodeData[statusResult](t, c.run("status").success(t))
	if !res.Ready || !res.Degraded || res.Authenticated {
		t.Fatalf("unexpected status: %+v", res)
	}
	// A buffer is not a terminal, so auto mode resolves to JSON.
	if res.OutputMode != "json" {
		t.Fatalf("expected effective output_mode json, got %q", res.OutputMode)
	}
	if len(c.api.seen()) != 0 {
		t.Fatalf("logged-out status should not call the backend: %v", c.api.seen())
	}
}

func TestStatusCommandRejectedToken(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	c.api.failOn("GET", "/appointment", 401, contract.MsgInvalidToken)
	res := decodeData[statusResult](t, c.run("status", "--json").success(t))
	if res.Authenticated || !res.Degraded || len(res.NextSteps) == 0 {
		t.Fatalf("rejected token should be reported: %+v", res)
	}
}

func TestStatusCommandUnreachableBackend(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	c.url = "http://127.0.0.1:1"
	res := c.run("status", "--json")
	if res.code != exitNetwork {
		t.Fatalf("exit code = %d, want %d (stderr=%s)", res.code, exitNetwork, res.stderr)
	}
	if !strings.Contains(res.stdout, `"ready": false`) {
		t.Fatalf("expected a single not-ready payload: %s", res.stdout)
	}
}

func TestPrintStatusPlain(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	exp := now.Add(2 * time.Hour)
	var out bytes.Buffer
	_ = printStatusPlain(&out, statusResult{
		Ready:          true,
		BaseURL:        "http://x",
		Profile:        "default",
		Authenticated:  true,
		Role:           contract.RoleAdmin,
		TokenExpiresAt: &exp,
		OutputMode:     "plain",
		Checks:         []statusCheck{{Name: "backend", Status: "pass", Message: "reachable"}},
	}, now)
	got := out.String()
	for _, want := range []string{"ready=true", "role=admin", "token expires 2 hours from now", "[pass] backend: reachable"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}
