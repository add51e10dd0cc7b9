package app

import "testing"

func TestBuildVersionString(t *testing.T) {
	SetBuildInfo("v1.2.3", "abc123", "2026-02-16T12:00:00Z")
	if got, want := BuildVersionString(), "v1.2.3 (abc123) 2026-02-16T12:00:00Z"; got != want {
		t.Fatalf("BuildVersionString() = %q, want %q", got, want)
	}
	if got, want := userAgent(), "agenda/v1.2.3 (abc123)"; got != want {
		t.Fatalf("userAgent() = %q, want %q", got, want)
	}
}
