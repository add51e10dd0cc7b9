package app

import (
	"testing"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/storage"
)

func TestLoginStoresSession(t *testing.T) {
	c := newCLI(t, "")
	c.api.loginUser = contract.User{ID: "u7", ProfileID: "pat-7", Role: contract.RolePatient, Email: testEmail}
	c.stdin = testPassword + "\n"

	doc := c.run("login", "--email", testEmail, "--password-stdin", "--json").success(t)
	who := decodeData[whoamiResult](t, doc)
	if !who.Authenticated || who.Role != contract.RolePatient || who.ProfileID != "pat-7" {
		t.Fatalf("unexpected session: %+v", who)
	}
	if tok, _, _ := c.store.Get(storage.KeyAuthToken); tok != "tok-login" {
		t.Fatalf("token not persisted: %q", tok)
	}

	doc = c.run("whoami", "--json").success(t)
	if who = decodeData[whoamiResult](t, doc); who.User == nil || who.User.ID != "u7" {
		t.Fatalf("session not restored from the store: %+v", who)
	}
}

func TestLoginPasswordFromEnv(t *testing.T) {
	c := newCLI(t, "")
	c.api.loginUser = contract.User{ID: "u1", Role: contract.RoleAdmin}
	t.Setenv("AGENDA_PASSWORD", testPassword)
	c.run("login", "--email", testEmail, "--json").success(t)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := newCLI(t, "")
	c.stdin = "wrong\n"
	env := c.run("login", "--email", testEmail, "--password-stdin", "--json").failure(t, exitAuth)
	if env.Error.Message != contract.MsgInvalidCredentials {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	if _, ok, _ := c.store.Get(storage.KeyAuthToken); ok {
		t.Fatalf("failed login must not store a token")
	}
}

func TestFailedLoginKeepsExistingSession(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	c.stdin = "wrong\n"
	env := c.run("login", "--email", testEmail, "--password-stdin", "--json").failure(t, exitAuth)
	if env.Error.Message != contract.MsgInvalidCredentials {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	if tok, _, _ := c.store.Get(storage.KeyAuthToken); tok != "tok-seeded" {
		t.Fatalf("existing token dropped: %q", tok)
	}
	who := decodeData[whoamiResult](t, c.run("whoami", "--json").success(t))
	if !who.Authenticated || who.Role != contract.RoleAdmin {
		t.Fatalf("existing session lost: %+v", who)
	}
}

func TestLoginValidatesBeforeSending(t *testing.T) {
	c := newCLI(t, "")
	c.stdin = testPassword + "\n"
	env := c.run("login", "--email", "not-an-email", "--password-stdin", "--json").failure(t, exitUsage)
	if env.Meta["messageCode"] != contract.MsgValidationFailed {
		t.Fatalf("unexpected meta: %v", env.Meta)
	}
	c.run("login", "--email", testEmail, "--json").failure(t, exitUsage)
	if len(c.api.seen()) != 0 {
		t.Fatalf("invalid login reached the backend: %v", c.api.seen())
	}
}

func TestLogoutClearsSession(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	doc := c.run("logout", "--json").success(t)
	data := decodeData[map[string]any](t, doc)
	if data["was_authenticated"] != true || data["next"] != "/login" {
		t.Fatalf("unexpected logout payload: %v", data)
	}
	for _, k := range storage.SessionKeys {
		if _, ok, _ := c.store.Get(k); ok {
			t.Fatalf("key %s survived logout", k)
		}
	}
	c.run("whoami", "--json").failure(t, exitAuth)
}

func TestRejectedTokenExpiresSession(t *testing.T) {
	c := newCLI(t, contract.RoleAdmin)
	c.api.failOn("GET", "/appointment", 401, contract.MsgInvalidToken)
	c.run("appointments", "list", "--json").failure(t, exitAuth)
	if _, ok, _ := c.store.Get(storage.KeyAuthToken); ok {
		t.Fatalf("401 should clear the stored token")
	}
}
