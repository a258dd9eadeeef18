// This file contains build information and initialization logic.
// Version, Commit and BuildTime are injected with -ldflags "-X github.com/nobletooth/sica/pkg/utils.Version=...".
// CAUTION: This file shouldn't be removed or else flags wouldn't be set properly.

package utils

import (
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

// devVersion is reported when no version was injected at build time.
const devVersion = "v0.0.0-dev"

var (
	TestMode   string // Should be true when running tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	// If build info is not set, make that clear.
	if Version == "" {
		Version = devVersion
	}
	if !semver.IsValid(Version) {
		slog.Warn("Injected version is not a semantic version, falling back.", "version", Version)
		Version = devVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false", "error", err)
		}
	}
}

// MajorVersion returns the major component of the build version, e.g. "v1".
func MajorVersion() string {
	return semver.Major(Version)
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(StartTime).Round(time.Second)
}
