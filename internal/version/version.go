// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/sparse-speed/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line form printed by -version.
func String() string {
	return fmt.Sprintf("sparse-speed %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
