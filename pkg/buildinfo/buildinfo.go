// Package buildinfo resolves the version reported by histclean --version,
// from -ldflags when the release pipeline injects it and from the VCS
// settings embedded by the Go toolchain otherwise.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Info holds the resolved build metadata.
type Info struct {
	Version  string // version (e.g. "v1.2.3"), or "dev"
	Commit   string // full git commit hash, or "unknown"
	Date     string // build date in RFC3339, or "unknown"
	Modified bool   // true if the working tree had uncommitted changes
	GoVer    string // Go version used for the build
}

var (
	// These are populated by Set() from main packages using ldflags.
	ldflagsVersion string
	ldflagsCommit  string
	ldflagsDate    string

	once   sync.Once
	cached Info
)

// Set stores the values injected into package main with -ldflags, e.g.
//
//	-X main.version=v1.2.3 -X main.commit=$(git rev-parse HEAD)
func Set(version, commit, date string) {
	ldflagsVersion = version
	ldflagsCommit = commit
	ldflagsDate = date
}

// Get returns the resolved build info, computed once.
func Get() Info {
	once.Do(func() {
		cached = resolve()
	})
	return cached
}

func resolve() Info {
	info := Info{
		Version:  "dev",
		Commit:   "unknown",
		Date:     "unknown",
		Modified: false,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVer = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.Date = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}

	// ldflags win over VCS settings.
	if ldflagsVersion != "" {
		info.Version = ldflagsVersion
	}
	if ldflagsCommit != "" {
		info.Commit = ldflagsCommit
	}
	if ldflagsDate != "" {
		info.Date = ldflagsDate
	}

	return info
}

// String renders the one-line form printed by --version.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("histclean %s (commit %s, built %s, %s)", i.Version, commit, i.Date, i.GoVer)
}
