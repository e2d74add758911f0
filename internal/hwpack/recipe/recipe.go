// Package recipe reads hardware pack recipes: INI files with one [hwpack]
// section describing the pack and one section per APT source.
package recipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/linaro/imagetools/internal/failure"
	"gopkg.in/ini.v1"
)

const (
	MainSection = "hwpack"

	SupportSupported   = "supported"
	SupportUnsupported = "unsupported"
)

var (
	nameRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
	packageRe = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
)

// Source is an APT source: Entry is a sources.list line without the leading
// "deb", e.g. "http://ports.ubuntu.com/ubuntu-ports natty main".
type Source struct {
	ID    string
	Entry string
}

type Recipe struct {
	Name string
	// Version may be empty; it is then supplied when building.
	Version         string
	Architectures   []string
	Packages        []string
	AssumeInstalled []string
	IncludeDebs     bool
	// Support is empty, SupportSupported or SupportUnsupported.
	Support    string
	Origin     string
	Maintainer string
	Sources    []Source
}

func invalid(locator, format string, args ...interface{}) error {
	return failure.Errorf(failure.KindRecipeInvalid, locator, format, args...)
}

func locator(section, key string) string {
	return fmt.Sprintf("[%s] %s", section, key)
}

// words splits a whitespace separated list, dropping duplicates but keeping
// the first-seen order.
func words(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func parseBool(loc, s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	return false, invalid(loc, "%q is not a boolean (true, false, yes, no)", s)
}

// Parse reads and validates a recipe.
func Parse(r io.Reader) (*Recipe, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
	}, b)
	if err != nil {
		return nil, invalid("", "%v", err)
	}
	main, err := cfg.GetSection(MainSection)
	if err != nil {
		return nil, invalid("["+MainSection+"]", "missing section")
	}
	get := func(key string) string { return main.Key(key).String() }

	rc := &Recipe{
		Name:            strings.TrimSpace(get("name")),
		Version:         strings.TrimSpace(get("version")),
		Architectures:   words(get("architectures")),
		Packages:        words(get("packages")),
		AssumeInstalled: words(get("assume-installed")),
		IncludeDebs:     true,
		Support:         strings.TrimSpace(get("support")),
		Origin:          strings.TrimSpace(get("origin")),
		Maintainer:      strings.TrimSpace(get("maintainer")),
	}
	if main.HasKey("include-debs") {
		v, err := parseBool(locator(MainSection, "include-debs"), get("include-debs"))
		if err != nil {
			return nil, err
		}
		rc.IncludeDebs = v
	}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection || sec.Name() == MainSection {
			continue
		}
		if !sec.HasKey("sources-entry") {
			return nil, invalid(locator(sec.Name(), "sources-entry"), "missing key")
		}
		rc.Sources = append(rc.Sources, Source{
			ID:    sec.Name(),
			Entry: strings.TrimSpace(sec.Key("sources-entry").String()),
		})
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// ParseFile parses the recipe at path.
func ParseFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Validate checks all recipe rules. Errors match failure.ErrRecipeInvalid and
// name the offending section and key.
func (rc *Recipe) Validate() error {
	if rc.Name == "" {
		return invalid(locator(MainSection, "name"), "missing")
	}
	if !nameRe.MatchString(rc.Name) {
		return invalid(locator(MainSection, "name"), "invalid name %q", rc.Name)
	}
	if rc.Version != "" {
		if err := ValidateVersion(rc.Version); err != nil {
			return err
		}
	}
	switch rc.Support {
	case "", SupportSupported, SupportUnsupported:
	default:
		return invalid(locator(MainSection, "support"), "%q is not one of %s, %s", rc.Support, SupportSupported, SupportUnsupported)
	}
	if len(rc.Architectures) == 0 {
		return invalid(locator(MainSection, "architectures"), "no architectures listed")
	}
	if len(rc.Packages) == 0 {
		return invalid(locator(MainSection, "packages"), "no packages listed")
	}
	for _, p := range rc.Packages {
		if !packageRe.MatchString(p) {
			return invalid(locator(MainSection, "packages"), "invalid package name %q", p)
		}
	}
	for _, p := range rc.AssumeInstalled {
		if !packageRe.MatchString(p) {
			return invalid(locator(MainSection, "assume-installed"), "invalid package name %q", p)
		}
	}
	if len(rc.Sources) == 0 {
		return invalid("", "no sources defined")
	}
	for _, src := range rc.Sources {
		loc := locator(src.ID, "sources-entry")
		fields := strings.Fields(src.Entry)
		if len(fields) > 0 && (fields[0] == "deb" || fields[0] == "deb-src") {
			return invalid(loc, "must not start with %q", fields[0])
		}
		if len(fields) < 2 {
			return invalid(loc, "%q must name both a URI and a distribution", src.Entry)
		}
	}
	return nil
}

// ValidateVersion rejects versions containing whitespace.
func ValidateVersion(v string) error {
	if v == "" || strings.ContainsAny(v, " \t\r\n") {
		return invalid(locator(MainSection, "version"), "invalid version %q", v)
	}
	return nil
}

// Render writes rc in the format Parse reads.
func (rc *Recipe) Render(w io.Writer) error {
	cfg := ini.Empty()
	main, err := cfg.NewSection(MainSection)
	if err != nil {
		return err
	}
	includeDebs := "no"
	if rc.IncludeDebs {
		includeDebs = "yes"
	}
	for _, kv := range []struct{ key, value string }{
		{"name", rc.Name},
		{"version", rc.Version},
		{"architectures", strings.Join(rc.Architectures, " ")},
		{"packages", strings.Join(rc.Packages, " ")},
		{"assume-installed", strings.Join(rc.AssumeInstalled, " ")},
		{"include-debs", includeDebs},
		{"support", rc.Support},
		{"origin", rc.Origin},
		{"maintainer", rc.Maintainer},
	} {
		if kv.value == "" {
			continue
		}
		if _, err := main.NewKey(kv.key, kv.value); err != nil {
			return err
		}
	}
	for _, src := range rc.Sources {
		sec, err := cfg.NewSection(src.ID)
		if err != nil {
			return err
		}
		if _, err := sec.NewKey("sources-entry", src.Entry); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// Filename returns the artifact name for one architecture:
// hwpack_<name>_<version>_<arch>[_<support>].tar.gz.
func (rc *Recipe) Filename(version, arch string) string {
	fn := fmt.Sprintf("hwpack_%s_%s_%s", rc.Name, version, arch)
	if rc.Support != "" {
		fn += "_" + rc.Support
	}
	return fn + ".tar.gz"
}
