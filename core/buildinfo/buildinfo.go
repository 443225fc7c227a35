// Package buildinfo holds the version stamped in by the release build:
//
//	go build -ldflags "-X github.com/m3rciful/seerrbot/core/buildinfo.Version=v0.4.0 \
//	  -X github.com/m3rciful/seerrbot/core/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/m3rciful/seerrbot/core/buildinfo.Date=$(date -u +%FT%TZ)"
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "local"
	// Date is RFC 3339, empty for local builds.
	Date = ""
)

// String renders the build for `seerrbot version` and the startup log.
func String() string {
	if Date == "" {
		return fmt.Sprintf("%s (commit: %s)", Version, Commit)
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
