// Package sysinfo reports build version information for the CLI.
package sysinfo

import (
	"runtime/debug"
	"time"
)

// Version is the CLI version, set at build time via ldflags, e.g.
// go build -ldflags="-X github.com/andrewtheguy/securesend/internal/sysinfo.Version=1.0.0"
var Version = "dev"

func init() {
	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion adds git commit info to a "dev" version using Go's
// build info, falling back to a build timestamp if unavailable.
func enhanceDevVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-" + time.Now().UTC().Format("20060102-150405")
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev-" + time.Now().UTC().Format("20060102-150405")
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return "dev-" + revision + "-dirty"
	}
	return "dev-" + revision
}
