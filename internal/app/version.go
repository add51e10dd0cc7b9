package app

import (
	"fmt"
	"runtime/debug"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetBuildInfo records ldflags values. A dev build installed with `go install`
// falls back to the module version from the embedded build info.
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}
	if buildVersion == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			buildVersion = bi.Main.Version
		}
	}
}

func BuildVersionString() string {
	return fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
}

// userAgent identifies the client to the backend on every request.
func userAgent() string {
	if buildCommit == "none" {
		return "agenda/" + buildVersion
	}
	return fmt.Sprintf("agenda/%s (%s)", buildVersion, buildCommit)
}
