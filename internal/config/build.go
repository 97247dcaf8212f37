package config

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X geowatch/internal/config.version=1.2.3 ...".
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

// BuildInfo identifies the running binary. It is filled at load time, not
// from the environment.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// String renders "dev (abc1234, 2026-03-01T12:00:00Z)".
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, %s)", b.Version, b.Commit, b.BuildTime)
}

// CurrentBuild prefers linker values and falls back to the VCS stamp Go
// embeds in module builds.
func CurrentBuild() BuildInfo {
	return buildFrom(version, commit, buildTime, debug.ReadBuildInfo)
}

func buildFrom(v, c, t string, read func() (*debug.BuildInfo, bool)) BuildInfo {
	b := BuildInfo{Version: v, Commit: c, BuildTime: t}
	if b.Commit == "" || b.BuildTime == "" {
		if info, ok := read(); ok && info != nil {
			for _, s := range info.Settings {
				switch {
				case s.Key == "vcs.revision" && b.Commit == "":
					b.Commit = s.Value
				case s.Key == "vcs.time" && b.BuildTime == "":
					b.BuildTime = s.Value
				}
			}
		}
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.BuildTime == "" {
		b.BuildTime = "unknown"
	}
	return b
}
