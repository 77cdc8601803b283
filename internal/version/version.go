// Package version carries build metadata injected with -ldflags, e.g.
//
//	-X github.com/banshee-data/scene.report/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for --version output and logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
