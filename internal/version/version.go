package version

import "fmt"

//nolint:gochecknoglobals // Overridden via -ldflags.
var (
	// Version is the semantic version of the build.
	Version = "0.1.0"
	// Commit is the short git SHA or "none" for local builds.
	Commit = "none"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full renders the version with its commit and build time.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
