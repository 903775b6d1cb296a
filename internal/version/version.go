// Package version holds build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	-ldflags "-X github.com/GeorgePearse/mcp-tui-test/internal/version.Version=v0.3.0"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line build description.
func Info() string {
	return fmt.Sprintf("tuitest %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
