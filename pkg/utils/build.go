// Build information for dlist binaries. Version, Commit and BuildTime are meant to be set through -ldflags, e.g.
// -ldflags "-X github.com/nobletooth/dlist/pkg/utils.Version=v0.1.0".
// CAUTION: This file shouldn't be removed or else flags wouldn't be set properly.

package utils

import (
	"log/slog"
	"strconv"
	"time"
)

// DevVersion is reported when the binary was built without a version.
const DevVersion = "v0.0.0-dev"

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
		Version = DevVersion
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
			slog.Warn("Failed to parse TestMode build flag, defaulting to false.", "error", err)
		}
	}
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(StartTime)
}

// LogBuildInfo writes the build information to the default logger.
func LogBuildInfo() {
	slog.Info("Dlist build info.", "version", Version, "commit", Commit, "build", BuildTime, "uptime", Uptime())
}
