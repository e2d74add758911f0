// Package version reports the VCS revision lmc was built from.
package version

import (
	"runtime/debug"
	"strings"
)

const repoURL = "https://github.com/linaro/imagetools"

type buildInfo struct {
	revision string
	modified bool
}

func fromBuildInfo(info *debug.BuildInfo) (buildInfo, bool) {
	settings := make(map[string]string)
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	if rev, ok := settings["vcs.revision"]; ok {
		return buildInfo{revision: rev, modified: settings["vcs.modified"] == "true"}, true
	}
	// Module builds carry a pseudo-version such as
	// v0.0.0-20230107144322-7a5757f46310.
	v := info.Main.Version
	if idx := strings.LastIndexByte(v, '-'); idx > -1 {
		return buildInfo{revision: v[idx+1:]}, true
	}
	return buildInfo{}, false
}

func read() (buildInfo, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return buildInfo{}, false
	}
	return fromBuildInfo(info)
}

// Read returns a link to the commit lmc was built from.
func Read() string {
	bi, ok := read()
	if !ok {
		return "<unknown>"
	}
	s := repoURL + "/commit/" + bi.revision
	if bi.modified {
		s += " (modified)"
	}
	return s
}

// ReadBrief returns a short revision, e.g. g7a5757+ for a modified tree.
func ReadBrief() string {
	bi, ok := read()
	if !ok {
		return "<unknown>"
	}
	rev := bi.revision
	if len(rev) > 6 {
		rev = rev[:6]
	}
	if bi.modified {
		rev += "+"
	}
	return "g" + rev
}
