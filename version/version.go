package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Link-time values, e.g.
//
//	go build -ldflags "-X github.com/kbukum/fetchkit/version.Version=v1.2.0"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// commitLen is how much of a revision hash is shown.
const commitLen = 12

// Build describes the running binary.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
	Date    string `json:"date,omitempty"`
	Go      string `json:"go"`
}

// Current merges the link-time values with the VCS stamp the Go toolchain
// embeds in the binary. Link-time values win.
func Current() Build {
	b := Build{Version: Version, Commit: Commit, Date: Date, Go: runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.merge(info)
	}
	if len(b.Commit) > commitLen {
		b.Commit = b.Commit[:commitLen]
	}
	return b
}

func (b *Build) merge(info *debug.BuildInfo) {
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		case "vcs.time":
			if b.Date == "" {
				b.Date = s.Value
			}
		}
	}
}

// String renders b as "v1.2.0 (0123456789ab, dirty, 2026-01-02T15:04:05Z, go1.26.0)".
func (b Build) String() string {
	details := make([]string, 0, 4)
	if b.Commit != "" {
		details = append(details, b.Commit)
	}
	if b.Dirty {
		details = append(details, "dirty")
	}
	if b.Date != "" {
		details = append(details, b.Date)
	}
	details = append(details, b.Go)
	return b.Version + " (" + strings.Join(details, ", ") + ")"
}

// UserAgent returns the default User-Agent sent by fetchkit sessions.
func UserAgent() string {
	return "fetchkit/" + Version + " (" + runtime.Version() + ")"
}
