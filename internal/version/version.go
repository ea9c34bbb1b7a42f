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

// String formats the build identity for logs and the debug server.
func String() string {
	return fmt.Sprintf("nlfff %s (%s, built %s)", Version, GitSHA, BuildTime)
}
