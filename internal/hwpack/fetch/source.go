package fetch

import (
	"fmt"
	"strings"
)

// Source is a parsed APT source.
type Source struct {
	ID         string
	URI        string
	Dist       string
	Components []string

	local bool
}

// ParseSource parses a sources.list entry without the leading "deb".
func ParseSource(id, entry string) (Source, error) {
	fields := strings.Fields(entry)
	if len(fields) < 2 {
		return Source{}, fmt.Errorf("source %s: %q must name both a URI and a distribution", id, entry)
	}
	s := Source{
		ID:         id,
		URI:        strings.TrimSuffix(fields[0], "/"),
		Dist:       fields[1],
		Components: fields[2:],
	}
	if !s.flat() && len(s.Components) == 0 {
		return Source{}, fmt.Errorf("source %s: %q names no components", id, entry)
	}
	return s, nil
}

// flat reports whether s is a flat repository ("uri ./"), which has no
// dists/ hierarchy.
func (s Source) flat() bool { return strings.HasSuffix(s.Dist, "/") }

// Line returns s in sources.list syntax.
func (s Source) Line() string {
	return strings.Join(append([]string{"deb", s.URI, s.Dist}, s.Components...), " ")
}

// Entry returns s without the leading "deb".
func (s Source) Entry() string {
	return strings.TrimPrefix(s.Line(), "deb ")
}

// root returns the URI Filename fields in the index are relative to.
func (s Source) root() string {
	if !s.flat() {
		return s.URI
	}
	d := strings.Trim(s.Dist, "/")
	if d == "" || d == "." {
		return s.URI
	}
	return s.URI + "/" + d
}

// indexDirs returns the directories holding Packages indexes for arch.
func (s Source) indexDirs(arch string) []string {
	if s.flat() {
		return []string{s.root()}
	}
	var dirs []string
	for _, c := range s.Components {
		dirs = append(dirs, fmt.Sprintf("%s/dists/%s/%s/binary-%s", s.URI, s.Dist, c, arch))
	}
	return dirs
}
