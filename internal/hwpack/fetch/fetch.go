// Package fetch resolves and downloads Debian packages for one architecture in
// an isolated working tree, independent of the host's package configuration.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/linaro/imagetools/internal/debian"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

type Options struct {
	// LocalDebs are .deb files which take precedence over packages of the
	// same name from any source.
	LocalDebs []string
	// Transport defaults to FileTransport.
	Transport Transport
	// TempDir is the parent of the working tree; empty means os.TempDir().
	TempDir string
}

type candidate struct {
	pkg   *debian.Package
	root  string // URI the index Filename is relative to
	local string // path of the local .deb, if any
}

// Fetcher owns a working tree laid out like an APT root:
//
//	etc/apt/apt.conf
//	etc/apt/sources.list
//	var/lib/dpkg/status
//	var/lib/apt/lists/
//	var/cache/apt/archives/
//	local/              (local .debs and their Packages index)
type Fetcher struct {
	sources   []Source
	arch      string
	transport Transport
	opts      Options

	dir       string
	ignored   map[string]bool
	byName    map[string]*candidate
	providers map[string][]*candidate
	origin    map[*debian.Package]*candidate
	usedLocal map[string]bool
}

func New(sources []Source, arch string, opts Options) *Fetcher {
	t := opts.Transport
	if t == nil {
		t = FileTransport{}
	}
	return &Fetcher{
		sources:   sources,
		arch:      arch,
		transport: t,
		opts:      opts,
		ignored:   make(map[string]bool),
		byName:    make(map[string]*candidate),
		providers: make(map[string][]*candidate),
		origin:    make(map[*debian.Package]*candidate),
		usedLocal: make(map[string]bool),
	}
}

// Dir returns the working tree, or "" before Prepare.
func (f *Fetcher) Dir() string { return f.dir }

func (f *Fetcher) path(rel string) string { return filepath.Join(f.dir, filepath.FromSlash(rel)) }

// Prepare creates the working tree and loads the package indexes of all
// sources.
func (f *Fetcher) Prepare(ctx context.Context) error {
	dir, err := os.MkdirTemp(f.opts.TempDir, "hwpack-fetch-")
	if err != nil {
		return err
	}
	f.dir = dir
	for _, d := range []string{"etc/apt", "var/lib/dpkg", "var/lib/apt/lists", "var/cache/apt/archives", "local"} {
		if err := os.MkdirAll(f.path(d), 0755); err != nil {
			return err
		}
	}
	aptConf := fmt.Sprintf("Apt {\n  Architecture \"%s\";\n  Install-Recommends \"true\";\n}\n", f.arch)
	if err := os.WriteFile(f.path("etc/apt/apt.conf"), []byte(aptConf), 0644); err != nil {
		return err
	}

	sources := append([]Source(nil), f.sources...)
	if len(f.opts.LocalDebs) > 0 {
		local, err := f.prepareLocal()
		if err != nil {
			return err
		}
		sources = append(sources, local)
	}
	var list strings.Builder
	for _, s := range sources {
		list.WriteString(s.Line() + "\n")
	}
	if err := os.WriteFile(f.path("etc/apt/sources.list"), []byte(list.String()), 0644); err != nil {
		return err
	}
	if err := f.writeStatus(); err != nil {
		return err
	}

	for _, s := range sources {
		if err := f.loadSource(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// prepareLocal copies the local .debs into the working tree and indexes
// them as a flat repository.
func (f *Fetcher) prepareLocal() (Source, error) {
	var paras []debian.Paragraph
	for _, fn := range f.opts.LocalDebs {
		pkg, err := debian.ReadDeb(fn)
		if err != nil {
			return Source{}, err
		}
		if err := os.WriteFile(f.path("local/"+pkg.Filename), pkg.Content, 0644); err != nil {
			return Source{}, err
		}
		para := pkg.Paragraph()
		para.Set("X-Local-Path", fn)
		paras = append(paras, para)
	}
	var buf bytes.Buffer
	if err := debian.WriteParagraphs(&buf, paras); err != nil {
		return Source{}, err
	}
	if err := os.WriteFile(f.path("local/Packages"), buf.Bytes(), 0644); err != nil {
		return Source{}, err
	}
	return Source{ID: "local", URI: "file://" + filepath.ToSlash(f.path("local")), Dist: "./", local: true}, nil
}

// openIndex returns the first of Packages.gz, Packages.xz and Packages
// found in dir.
func (f *Fetcher) openIndex(ctx context.Context, dir string) ([]byte, string, error) {
	for _, name := range []string{"Packages.gz", "Packages.xz", "Packages"} {
		uri := dir + "/" + name
		rc, err := f.transport.Open(ctx, uri)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		b, err := readIndex(name, rc)
		rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("%s: %v", uri, err)
		}
		return b, uri, nil
	}
	return nil, "", fmt.Errorf("%s: no Packages index: %w", dir, ErrNotFound)
}

func readIndex(name string, r io.Reader) ([]byte, error) {
	switch path.Ext(name) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(xr)
	}
	return io.ReadAll(r)
}

// listName is the file name APT uses for an index in var/lib/apt/lists.
func listName(uri string) string {
	if i := strings.Index(uri, "://"); i > -1 {
		uri = uri[i+3:]
	}
	uri = strings.TrimSuffix(strings.TrimSuffix(uri, ".gz"), ".xz")
	return strings.NewReplacer("/", "_", ":", "_").Replace(uri)
}

func (f *Fetcher) loadSource(ctx context.Context, s Source) error {
	for _, dir := range s.indexDirs(f.arch) {
		b, uri, err := f.openIndex(ctx, dir)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.ID, err)
		}
		if err := os.WriteFile(f.path("var/lib/apt/lists/"+listName(uri)), b, 0644); err != nil {
			return err
		}
		paras, err := debian.ParseParagraphs(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("%s: %v", uri, err)
		}
		for _, para := range paras {
			pkg, err := debian.PackageFromParagraph(para)
			if err != nil {
				return fmt.Errorf("%s: %v", uri, err)
			}
			c := &candidate{pkg: pkg, root: s.root()}
			if s.local {
				c.local = para.Get("X-Local-Path")
			}
			f.add(c)
		}
	}
	return nil
}

// better reports whether c is preferred over cur: local packages win
// regardless of version, otherwise the higher version wins.
func better(c, cur *candidate) bool {
	if (c.local != "") != (cur.local != "") {
		return c.local != ""
	}
	return debian.CompareVersions(c.pkg.Version, cur.pkg.Version) > 0
}

func (f *Fetcher) add(c *candidate) {
	if a := c.pkg.Architecture; a != f.arch && a != "all" {
		return
	}
	f.origin[c.pkg] = c
	if cur, ok := f.byName[c.pkg.Name]; !ok || better(c, cur) {
		f.byName[c.pkg.Name] = c
	}
	for _, p := range c.pkg.Provides() {
		f.providers[p] = append(f.providers[p], c)
	}
}

// Ignore marks names as installed: relationships on them are considered
// satisfied and they are never fetched.
func (f *Fetcher) Ignore(names ...string) error {
	for _, n := range names {
		f.ignored[n] = true
	}
	if f.dir == "" {
		return nil
	}
	return f.writeStatus()
}

func (f *Fetcher) writeStatus() error {
	names := make([]string, 0, len(f.ignored))
	for n := range f.ignored {
		names = append(names, n)
	}
	sort.Strings(names)
	var paras []debian.Paragraph
	for _, n := range names {
		version := "0"
		if c, ok := f.byName[n]; ok {
			version = c.pkg.Version
		}
		paras = append(paras, debian.Paragraph{
			{Name: "Package", Value: n},
			{Name: "Status", Value: "install ok installed"},
			{Name: "Version", Value: version},
			{Name: "Architecture", Value: "all"},
		})
	}
	var buf bytes.Buffer
	if err := debian.WriteParagraphs(&buf, paras); err != nil {
		return err
	}
	return os.WriteFile(f.path("var/lib/dpkg/status"), buf.Bytes(), 0644)
}

// lookup returns the candidate satisfying r: the preferred package named
// r.Name, or, for unversioned relations, a provider of r.Name.
func (f *Fetcher) lookup(r debian.Relation) *candidate {
	if c, ok := f.byName[r.Name]; ok {
		if r.SatisfiedBy(c.pkg.Version) {
			return c
		}
		return nil
	}
	if r.Op != "" {
		return nil
	}
	var best *candidate
	for _, c := range f.providers[r.Name] {
		if best == nil || (c.local != "" && best.local == "") {
			best = c
		}
	}
	return best
}

type want struct {
	alts     []debian.Relation
	declared bool
	optional bool
	from     string
}

// Resolve returns the packages needed to install specs, sorted by name.
// specs are relationship expressions, typically plain package names.
// Dependencies on ignored packages are pruned.
func (f *Fetcher) Resolve(specs []string) ([]*debian.Package, error) {
	var queue []want
	for _, spec := range specs {
		rels, err := debian.ParseRelations(spec)
		if err != nil {
			return nil, failure.New(failure.KindPackageMissing, spec, err)
		}
		for _, alts := range rels {
			queue = append(queue, want{alts: alts, declared: true})
		}
	}

	selected := make(map[string]*candidate)
	provided := make(map[string]bool)
	satisfied := func(alts []debian.Relation) bool {
		for _, r := range alts {
			if f.ignored[r.Name] {
				return true
			}
			if c, ok := selected[r.Name]; ok && r.SatisfiedBy(c.pkg.Version) {
				return true
			}
			if r.Op == "" && provided[r.Name] {
				return true
			}
		}
		return false
	}

	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		if satisfied(w.alts) {
			continue
		}
		var c *candidate
		for _, r := range w.alts {
			if c = f.lookup(r); c != nil {
				break
			}
		}
		if c == nil {
			if w.optional {
				logrus.Debugf("recommended package %s (of %s) not available", debian.Relations{w.alts}, w.from)
				continue
			}
			spec := debian.Relations{w.alts}.String()
			if w.declared {
				return nil, failure.Errorf(failure.KindPackageMissing, spec, "no candidate for %s", f.arch)
			}
			return nil, failure.Errorf(failure.KindPackageMissing, spec, "no candidate for %s (needed by %s)", f.arch, w.from)
		}
		if prev, ok := selected[c.pkg.Name]; ok && prev != c {
			return nil, failure.Errorf(failure.KindPackageMissing, debian.Relations{w.alts}.String(),
				"%s %s is selected, but %s needs another version", c.pkg.Name, prev.pkg.Version, w.from)
		}
		selected[c.pkg.Name] = c
		for _, p := range c.pkg.Provides() {
			provided[p] = true
		}
		if c.local != "" {
			f.usedLocal[c.local] = true
		}

		deps, err := c.pkg.Depends()
		if err != nil {
			return nil, err
		}
		for _, alts := range deps {
			queue = append(queue, want{alts: alts, from: c.pkg.Name})
		}
		recs, err := debian.ParseRelations(c.pkg.Relations["Recommends"])
		if err != nil {
			return nil, fmt.Errorf("%s Recommends: %v", c.pkg.Name, err)
		}
		for _, alts := range recs {
			queue = append(queue, want{alts: alts, optional: true, from: c.pkg.Name})
		}
	}

	pkgs := make([]*debian.Package, 0, len(selected))
	for _, c := range selected {
		pkgs = append(pkgs, c.pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// Fetch downloads pkgs into the working tree's archive cache and verifies
// their size and MD5. The returned records carry the .deb base name as
// Filename, and the .deb bytes when downloadContent is set.
func (f *Fetcher) Fetch(ctx context.Context, pkgs []*debian.Package, downloadContent bool) ([]*debian.Package, error) {
	var fetched []*debian.Package
	for _, pkg := range pkgs {
		c, ok := f.origin[pkg]
		if !ok {
			return nil, fmt.Errorf("BUG: %s was not returned by Resolve", pkg.Name)
		}
		uri := c.root + "/" + strings.TrimPrefix(pkg.Filename, "./")
		logrus.Debugf("fetching %s", uri)
		rc, err := f.transport.Open(ctx, uri)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, failure.New(failure.KindPackageMissing, pkg.Name, err)
			}
			return nil, fmt.Errorf("fetching %s: %w", pkg.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", pkg.Name, err)
		}
		if err := pkg.Verify(b); err != nil {
			return nil, failure.New(failure.KindPackageChecksumMismatch, pkg.Name, err)
		}
		base := path.Base(pkg.Filename)
		if err := os.WriteFile(f.path("var/cache/apt/archives/"+base), b, 0644); err != nil {
			return nil, err
		}
		out := *pkg
		out.Filename = base
		out.Content = nil
		if downloadContent {
			out.Content = b
		}
		fetched = append(fetched, &out)
	}
	return fetched, nil
}

// LocalUnused returns the local .debs which no Resolve call selected.
func (f *Fetcher) LocalUnused() []string {
	var unused []string
	for _, fn := range f.opts.LocalDebs {
		if !f.usedLocal[fn] {
			unused = append(unused, fn)
		}
	}
	return unused
}

// Cleanup removes the working tree. It may be called repeatedly, and before
// Prepare.
func (f *Fetcher) Cleanup() error {
	if f.dir == "" {
		return nil
	}
	err := os.RemoveAll(f.dir)
	f.dir = ""
	return err
}
