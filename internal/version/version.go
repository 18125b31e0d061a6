// Package version carries build metadata set through -ldflags, e.g.
// -X git.home.luguber.info/inful/rtdbuild/internal/version.Version=v1.2.0.
package version

import "fmt"

var Version = "dev"

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by --version.
func String() string {
	return fmt.Sprintf("rtdbuild %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
