// Package version holds build-time version metadata, normally set via
// -ldflags at release build time.
package version

import "fmt"

var (
	Version = "dev"
	Commit   = "none"
	Date     = "unknown"
)

// Info renders a one-line version string for `aclctl version`.
func Info() string {
	return fmt.Sprintf("aclctl %s (commit %s, built %s)", Version, Commit, Date)
}
