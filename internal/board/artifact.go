package board

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/sirupsen/logrus"
)

// FindOne returns the single file below root whose slash-separated relative
// path matches pattern. Patterns use shell syntax plus {a,b} alternation.
// Zero or several matches are an ArtifactLookupAmbiguous failure naming the
// pattern.
func FindOne(root, pattern string) (string, error) {
	matches, err := Find(root, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", failure.Errorf(failure.KindArtifactLookupAmbiguous, pattern,
			"%d files match in %s, want exactly 1 (%s)", len(matches), root, strings.Join(matches, ", "))
	}
	return matches[0], nil
}

// Find returns all files below root matching pattern, sorted.
func Find(root, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, failure.New(failure.KindArtifactLookupAmbiguous, pattern, err)
	}
	depth := strings.Count(pattern, "/")
	start := filepath.Join(root, staticPrefix(pattern))
	var matches []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return filepath.SkipDir
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && strings.Count(rel, "/") >= depth {
				return filepath.SkipDir
			}
			return nil
		}
		if g.Match(rel) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// staticPrefix returns the leading directories of pattern which contain no
// pattern syntax.
func staticPrefix(pattern string) string {
	parts := strings.Split(pattern, "/")
	var static []string
	for _, p := range parts[:len(parts)-1] {
		if strings.ContainsAny(p, `*?[{\`) {
			break
		}
		static = append(static, p)
	}
	return filepath.Join(static...)
}

var kernelVersionRe = regexp.MustCompile(`^vmlinuz-(\d+)\.(\d+)\.(\d+)`)

// ResolveConsole returns the serial console to use with the kernel installed
// in stagingTree. Kernels older than 2.6.36 name the OMAP UARTs ttyS*, newer
// ones ttyO*; boards without a legacy console name skip the lookup.
func ResolveConsole(p *Profile, stagingTree string) (string, error) {
	if p.LegacySerialConsole == "" {
		return p.SerialConsole, nil
	}
	kernel, err := FindOne(stagingTree, p.KernelGlob())
	if err != nil {
		return "", err
	}
	m := kernelVersionRe.FindStringSubmatch(filepath.Base(kernel))
	if m == nil {
		logrus.Warnf("cannot parse kernel version of %s, using console %s", filepath.Base(kernel), p.SerialConsole)
		return p.SerialConsole, nil
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	if major == 2 && minor == 6 && patch < 36 {
		logrus.Warnf("kernel %s.%s.%s predates 2.6.36, using legacy serial console %s", m[1], m[2], m[3], p.LegacySerialConsole)
		return p.LegacySerialConsole, nil
	}
	if major < 2 || (major == 2 && minor < 6) {
		return p.LegacySerialConsole, nil
	}
	return p.SerialConsole, nil
}
