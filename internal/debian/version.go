// Package debian implements the parts of the Debian package format the
// hardware pack builder needs: version ordering, relationship fields, deb822
// paragraphs and .deb archives.
package debian

import (
	"strings"

	"pault.ag/go/debian/version"
)

// ParseVersion parses [epoch:]upstream[-revision] and rejects what dpkg
// rejects.
func ParseVersion(s string) (version.Version, error) {
	return version.Parse(s)
}

// CompareVersions compares two version strings and returns -1, 0 or 1.
// Unparseable versions sort before all valid ones and are compared lexically
// among themselves.
func CompareVersions(a, b string) int {
	va, errA := version.Parse(a)
	vb, errB := version.Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	switch c := version.Compare(va, vb); {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}
