package splists

import (
	"fmt"
	"runtime"
)

// Build metadata. GitCommit and BuildDate are set with -ldflags "-X".
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return fmt.Sprintf("splists %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, GoVersion)
}

// GetVersionInfo returns version metadata; it labels splists_build_info.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": GoVersion,
	}
}

// UserAgent is the default User-Agent header value.
func UserAgent() string {
	return "splists/" + Version
}
