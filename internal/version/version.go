// Package version carries build metadata, stamped via -ldflags at release
// time.
package version

import "fmt"

var (
	// Version is the application version.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("skewmon %s (%s, built %s)", Version, GitSHA, BuildTime)
}
