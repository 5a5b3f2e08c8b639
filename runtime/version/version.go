// Package version exposes the build version of the node, set at link time.
package version

import "fmt"

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"

// Version returns the version string of this build.
func Version() string {
	return fmt.Sprintf("go-aleph/%s. Built at: %s", gitCommit, buildDate)
}
