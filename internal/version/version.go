// Package version resolves the build version shown by the snaprelay binaries.
package version

import (
	"runtime/debug"
	"strings"
)

// Info is the resolved build identity.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Resolve combines values injected via -ldflags with Go module build info.
//
// Placeholders ("", "dev", "(devel)", "unknown") are replaced from build info
// when possible and dropped otherwise.
func Resolve(version string, commit string, date string) Info {
	out := Info{
		Version: strings.TrimSpace(version),
		Commit:  clean(commit),
		Date:    clean(date),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if out.Version == "" || out.Version == "dev" || out.Version == "(devel)" {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				out.Version = mv
			}
		}
		if out.Commit == "" {
			out.Commit = buildSetting(info, "vcs.revision")
		}
		if out.Date == "" {
			out.Date = buildSetting(info, "vcs.time")
		}
	}
	if out.Version == "" || out.Version == "(devel)" {
		out.Version = "dev"
	}
	return out
}

// String formats i as "version (commit) date", omitting unknown parts.
func (i Info) String() string {
	out := i.Version
	if i.Commit != "" {
		out += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		out += " " + i.Date
	}
	return out
}

// Line formats a CLI --version line for program.
func Line(program string, version string, commit string, date string) string {
	return program + " " + Resolve(version, commit, date).String()
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == "unknown" {
		return ""
	}
	return s
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return strings.TrimSpace(s.Value)
		}
	}
	return ""
}
