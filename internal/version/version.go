// Package version reports build information set through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Get returns the linked values. A commit left at "none" falls back to the
// VCS revision recorded by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "none" {
		if rev, ok := vcsRevision(); ok {
			info.Commit = rev
		}
	}
	return info
}

func vcsRevision() (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12], true
			}
			return s.Value, true
		}
	}
	return "", false
}

func (i Info) String() string {
	return fmt.Sprintf("structflow %s (commit: %s, built: %s, %s)", i.Version, i.Commit, i.Date, i.GoVersion)
}
