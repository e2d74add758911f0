// Package hwpack builds hardware packs: per-architecture tarballs bundling
// the packages a board needs, the APT sources they came from and a meta
// package depending on all of them.
package hwpack

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/debian"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/hwpack/fetch"
	"github.com/linaro/imagetools/internal/hwpack/recipe"
	"github.com/linaro/imagetools/internal/measure"
	"github.com/sirupsen/logrus"
)

// FormatVersion is written to the FORMAT member of every hardware pack.
const FormatVersion = "1.0"

type Builder struct {
	Recipe *recipe.Recipe
	// Version overrides Recipe.Version.
	Version   string
	LocalDebs []string
	// Transport defaults to fetch.FileTransport.
	Transport fetch.Transport
	OutDir    string
	// BuildTime is the mtime of all tar entries and of the meta package.
	// Zero means now.
	BuildTime time.Time
	TempDir   string
}

// Metadata describes one architecture's hardware pack.
type Metadata struct {
	Name         string
	Version      string
	Architecture string
	Origin       string
	Maintainer   string
	Support      string
}

func (m Metadata) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NAME=%s\nVERSION=%s\nARCHITECTURE=%s\n", m.Name, m.Version, m.Architecture)
	for _, kv := range []struct{ key, value string }{
		{"ORIGIN", m.Origin},
		{"MAINTAINER", m.Maintainer},
		{"SUPPORT", m.Support},
	} {
		if kv.value != "" {
			fmt.Fprintf(&b, "%s=%s\n", kv.key, kv.value)
		}
	}
	return b.String()
}

func (b *Builder) version() (string, error) {
	v := b.Version
	if v == "" {
		v = b.Recipe.Version
	}
	if err := recipe.ValidateVersion(v); err != nil {
		return "", err
	}
	return v, nil
}

// Build writes one hardware pack per recipe architecture into OutDir and
// returns their paths.
func (b *Builder) Build(ctx context.Context) ([]string, error) {
	if err := b.Recipe.Validate(); err != nil {
		return nil, err
	}
	version, err := b.version()
	if err != nil {
		return nil, err
	}
	if b.BuildTime.IsZero() {
		b.BuildTime = time.Now()
	}
	var sources []fetch.Source
	for _, s := range b.Recipe.Sources {
		src, err := fetch.ParseSource(s.ID, s.Entry)
		if err != nil {
			return nil, failure.New(failure.KindRecipeInvalid, fmt.Sprintf("[%s] sources-entry", s.ID), err)
		}
		sources = append(sources, src)
	}

	var paths []string
	for _, arch := range b.Recipe.Architectures {
		fmt.Printf("Building hardware pack %s %s for %s\n", b.Recipe.Name, version, arch)
		path, err := b.buildArch(ctx, sources, version, arch)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (b *Builder) buildArch(ctx context.Context, sources []fetch.Source, version, arch string) (_ string, err error) {
	st := cleanup.NewStack()
	defer func() { err = st.Cleanup(err) }()

	meta := Metadata{
		Name:         b.Recipe.Name,
		Version:      version,
		Architecture: arch,
		Origin:       b.Recipe.Origin,
		Maintainer:   b.Recipe.Maintainer,
		Support:      b.Recipe.Support,
	}

	f := fetch.New(sources, arch, fetch.Options{
		LocalDebs: b.LocalDebs,
		Transport: b.Transport,
		TempDir:   b.TempDir,
	})
	st.Push("remove package fetch tree", f.Cleanup)

	if err := measure.Phase("reading package indexes", func() error { return f.Prepare(ctx) }); err != nil {
		return "", err
	}
	if err := f.Ignore(b.Recipe.AssumeInstalled...); err != nil {
		return "", err
	}
	var pkgs []*debian.Package
	if err := measure.Phase("fetching packages", func() error {
		resolved, err := f.Resolve(b.Recipe.Packages)
		if err != nil {
			return err
		}
		pkgs, err = f.Fetch(ctx, resolved, b.Recipe.IncludeDebs)
		return err
	}); err != nil {
		return "", err
	}
	for _, fn := range f.LocalUnused() {
		logrus.Warnf("local package %s was not used", fn)
	}

	metaPkg, err := b.metaPackage(meta)
	if err != nil {
		return "", err
	}
	pkgs = append(pkgs, metaPkg)

	if err := os.MkdirAll(b.OutDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(b.OutDir, b.Recipe.Filename(version, arch))
	out, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return "", err
	}
	defer out.Cleanup()
	if err := b.writeArtifact(out, meta, pkgs); err != nil {
		return "", err
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return "", err
	}
	return path, nil
}

// metaPackage returns hwpack-<name>, which depends on every declared
// package spec.
func (b *Builder) metaPackage(meta Metadata) (*debian.Package, error) {
	maintainer := meta.Maintainer
	if maintainer == "" {
		maintainer = "Linaro <linaro-dev@lists.linaro.org>"
	}
	control := debian.Paragraph{
		{Name: "Package", Value: "hwpack-" + meta.Name},
		{Name: "Version", Value: meta.Version},
		{Name: "Architecture", Value: meta.Architecture},
		{Name: "Maintainer", Value: maintainer},
		{Name: "Depends", Value: strings.Join(b.Recipe.Packages, ", ")},
		{Name: "Description", Value: "Meta package for the " + meta.Name + " hardware pack"},
	}
	var buf bytes.Buffer
	if err := debian.WriteDeb(&buf, control, b.BuildTime); err != nil {
		return nil, err
	}
	name := (&debian.Package{Name: "hwpack-" + meta.Name, Version: meta.Version, Architecture: meta.Architecture}).DebName()
	return debian.PackageFromDeb(name, buf.Bytes())
}

func (b *Builder) writeArtifact(w *renameio.PendingFile, meta Metadata, pkgs []*debian.Package) error {
	tb, err := newTarball(w, b.BuildTime)
	if err != nil {
		return err
	}

	var manifest strings.Builder
	var index bytes.Buffer
	var paras []debian.Paragraph
	for _, pkg := range pkgs {
		fmt.Fprintf(&manifest, "%s=%s\n", pkg.Name, pkg.Version)
		paras = append(paras, pkg.Paragraph())
	}
	if err := debian.WriteParagraphs(&index, paras); err != nil {
		return err
	}

	for _, e := range []struct {
		name string
		body string
	}{
		{"FORMAT", FormatVersion + "\n"},
		{"metadata", meta.String()},
		{"manifest", manifest.String()},
	} {
		if err := tb.file(e.name, []byte(e.body)); err != nil {
			return err
		}
	}

	if err := tb.dir("pkgs/"); err != nil {
		return err
	}
	if err := tb.file("pkgs/Packages", index.Bytes()); err != nil {
		return err
	}
	if b.Recipe.IncludeDebs {
		for _, pkg := range pkgs {
			if err := tb.file("pkgs/"+pkg.Filename, pkg.Content); err != nil {
				return err
			}
		}
	}

	if err := tb.dir("sources.list.d/"); err != nil {
		return err
	}
	for _, s := range b.Recipe.Sources {
		if err := tb.file("sources.list.d/"+s.ID+".list", []byte("deb "+s.Entry+"\n")); err != nil {
			return err
		}
	}
	if err := tb.dir("sources.list.d.gpg/"); err != nil {
		return err
	}
	return tb.Close()
}
