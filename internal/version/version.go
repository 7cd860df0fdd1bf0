package version

import (
	"runtime/debug"
	"strings"
)

// Set through -ldflags at release time.
var (
	Version = "0.1.0"
	Commit  = ""
	Date    = "unknown"
)

// Resolve returns the version string. Release builds carry Commit from
// ldflags and print the bare version; development builds append the VCS
// revision stamped by the Go toolchain.
func Resolve() string {
	return resolveVersion(Version, Commit, buildSettings())
}

func resolveVersion(base, commit string, settings map[string]string) string {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" {
		return base
	}

	revision := settings["vcs.revision"]
	if revision == "" {
		return base
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}

	suffix := "dev." + revision
	if settings["vcs.modified"] == "true" {
		suffix += ".dirty"
	}
	return base + "-" + suffix
}

func buildSettings() map[string]string {
	settings := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			settings[s.Key] = s.Value
		}
	}
	return settings
}
