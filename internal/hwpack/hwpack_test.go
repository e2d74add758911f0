package hwpack

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/linaro/imagetools/internal/debian"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/hwpack/recipe"
	"github.com/linaro/imagetools/internal/measure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buildTime = time.Date(2011, 3, 2, 12, 0, 0, 0, time.UTC)

func init() { measure.Output = io.Discard }

func makeDeb(t *testing.T, name, version, depends string) *debian.Package {
	t.Helper()
	control := debian.Paragraph{
		{Name: "Package", Value: name},
		{Name: "Version", Value: version},
		{Name: "Architecture", Value: "armel"},
		{Name: "Maintainer", Value: "Nobody <nobody@example.com>"},
	}
	if depends != "" {
		control.Set("Depends", depends)
	}
	control.Set("Description", "test package")
	var buf bytes.Buffer
	require.NoError(t, debian.WriteDeb(&buf, control, buildTime))
	pkg, err := debian.PackageFromDeb("", buf.Bytes())
	require.NoError(t, err)
	pkg.Filename = pkg.DebName()
	return pkg
}

// writeRepo writes a flat repository and returns its sources entry.
func writeRepo(t *testing.T, pkgs ...*debian.Package) string {
	t.Helper()
	dir := t.TempDir()
	var paras []debian.Paragraph
	for _, pkg := range pkgs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, pkg.Filename), pkg.Content, 0644))
		paras = append(paras, pkg.Paragraph())
	}
	var index bytes.Buffer
	require.NoError(t, debian.WriteParagraphs(&index, paras))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Packages"), index.Bytes(), 0644))
	return "file://" + dir + " ./"
}

func newRecipe(entry string, packages ...string) *recipe.Recipe {
	return &recipe.Recipe{
		Name:          "ahwpack",
		Architectures: []string{"armel"},
		Packages:      packages,
		IncludeDebs:   true,
		Sources:       []recipe.Source{{ID: "ubuntu", Entry: entry}},
	}
}

type entry struct {
	hdr  *tar.Header
	body []byte
}

func readArtifact(t *testing.T, path string) (names []string, entries map[string]entry) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	entries = make(map[string]entry)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		names = append(names, hdr.Name)
		entries[hdr.Name] = entry{hdr: hdr, body: body}
	}
	return names, entries
}

func build(t *testing.T, b *Builder) []string {
	t.Helper()
	if b.OutDir == "" {
		b.OutDir = t.TempDir()
	}
	b.TempDir = t.TempDir()
	b.BuildTime = buildTime
	paths, err := b.Build(context.Background())
	require.NoError(t, err)
	return paths
}

func TestBuildSingleArch(t *testing.T) {
	foo := makeDeb(t, "foo", "1.1", "")
	rc := newRecipe(writeRepo(t, foo), "foo")
	paths := build(t, &Builder{Recipe: rc, Version: "1.0"})
	require.Len(t, paths, 1)
	assert.Equal(t, "hwpack_ahwpack_1.0_armel.tar.gz", filepath.Base(paths[0]))

	names, entries := readArtifact(t, paths[0])
	assert.Equal(t, []string{
		"FORMAT",
		"metadata",
		"manifest",
		"pkgs/",
		"pkgs/Packages",
		"pkgs/foo_1.1_armel.deb",
		"pkgs/hwpack-ahwpack_1.0_armel.deb",
		"sources.list.d/",
		"sources.list.d/ubuntu.list",
		"sources.list.d.gpg/",
	}, names)
	assert.Equal(t, "1.0\n", string(entries["FORMAT"].body))
	assert.Equal(t, "NAME=ahwpack\nVERSION=1.0\nARCHITECTURE=armel\n", string(entries["metadata"].body))
	assert.Equal(t, "foo=1.1\nhwpack-ahwpack=1.0\n", string(entries["manifest"].body))
	assert.Equal(t, foo.Content, entries["pkgs/foo_1.1_armel.deb"].body)
	assert.Equal(t, "deb "+rc.Sources[0].Entry+"\n", string(entries["sources.list.d/ubuntu.list"].body))

	paras, err := debian.ParseParagraphs(bytes.NewReader(entries["pkgs/Packages"].body))
	require.NoError(t, err)
	require.Len(t, paras, 2)
	assert.Equal(t, "foo", paras[0].Get("Package"))
	assert.Equal(t, "foo_1.1_armel.deb", paras[0].Get("Filename"))
	assert.Equal(t, "hwpack-ahwpack", paras[1].Get("Package"))
	assert.Equal(t, "foo", paras[1].Get("Depends"))

	meta, err := debian.ReadControl(bytes.NewReader(entries["pkgs/hwpack-ahwpack_1.0_armel.deb"].body), "hwpack-ahwpack_1.0_armel.deb")
	require.NoError(t, err)
	assert.Equal(t, "1.0", meta.Get("Version"))
	assert.Equal(t, "armel", meta.Get("Architecture"))

	for _, e := range entries {
		assert.Equal(t, 1000, e.hdr.Uid, e.hdr.Name)
		assert.Equal(t, 1000, e.hdr.Gid, e.hdr.Name)
		assert.Equal(t, "user", e.hdr.Uname, e.hdr.Name)
		assert.Equal(t, "group", e.hdr.Gname, e.hdr.Name)
		assert.True(t, e.hdr.ModTime.Equal(buildTime), e.hdr.Name)
	}
}

func TestAssumeInstalledSuppressesDependency(t *testing.T) {
	rc := newRecipe(writeRepo(t,
		makeDeb(t, "foo", "1.0", "bar"),
		makeDeb(t, "bar", "1.0", ""),
	), "foo")
	rc.AssumeInstalled = []string{"bar"}
	paths := build(t, &Builder{Recipe: rc, Version: "1.0"})

	names, entries := readArtifact(t, paths[0])
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n, "pkgs/bar_"), n)
	}
	assert.Equal(t, "foo=1.0\nhwpack-ahwpack=1.0\n", string(entries["manifest"].body))
}

func TestMetadataOptionalFields(t *testing.T) {
	rc := newRecipe(writeRepo(t, makeDeb(t, "foo", "1.0", "")), "foo")
	rc.Origin = "Linaro"
	rc.Maintainer = "Linaro Infrastructure <infrastructure@linaro.org>"
	rc.Support = recipe.SupportSupported
	rc.Version = "20110302"
	paths := build(t, &Builder{Recipe: rc})
	assert.Equal(t, "hwpack_ahwpack_20110302_armel_supported.tar.gz", filepath.Base(paths[0]))

	_, entries := readArtifact(t, paths[0])
	assert.Equal(t, "NAME=ahwpack\nVERSION=20110302\nARCHITECTURE=armel\n"+
		"ORIGIN=Linaro\nMAINTAINER=Linaro Infrastructure <infrastructure@linaro.org>\nSUPPORT=supported\n",
		string(entries["metadata"].body))
}

func TestBuildDeterministic(t *testing.T) {
	entry := writeRepo(t, makeDeb(t, "foo", "1.1", ""))
	first := build(t, &Builder{Recipe: newRecipe(entry, "foo"), Version: "1.0"})
	second := build(t, &Builder{Recipe: newRecipe(entry, "foo"), Version: "1.0"})
	a, err := os.ReadFile(first[0])
	require.NoError(t, err)
	b, err := os.ReadFile(second[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "artifacts differ")
}

func TestExcludeDebs(t *testing.T) {
	rc := newRecipe(writeRepo(t, makeDeb(t, "foo", "1.1", "")), "foo")
	rc.IncludeDebs = false
	paths := build(t, &Builder{Recipe: rc, Version: "1.0"})
	names, entries := readArtifact(t, paths[0])
	for _, n := range names {
		assert.False(t, strings.HasSuffix(n, ".deb"), n)
	}
	assert.Equal(t, "foo=1.1\nhwpack-ahwpack=1.0\n", string(entries["manifest"].body))
}

func TestPreferLocalDeb(t *testing.T) {
	rc := newRecipe(writeRepo(t, makeDeb(t, "foo", "2.0", "")), "foo")
	local := makeDeb(t, "foo", "1.0", "")
	fn := filepath.Join(t.TempDir(), local.Filename)
	require.NoError(t, os.WriteFile(fn, local.Content, 0644))

	paths := build(t, &Builder{Recipe: rc, Version: "1.0", LocalDebs: []string{fn}})
	_, entries := readArtifact(t, paths[0])
	assert.Equal(t, "foo=1.0\nhwpack-ahwpack=1.0\n", string(entries["manifest"].body))
	assert.Equal(t, local.Content, entries["pkgs/foo_1.0_armel.deb"].body)
}

func TestMultipleArchitectures(t *testing.T) {
	rc := newRecipe(writeRepo(t, makeDeb(t, "foo", "1.1", "")), "foo")
	rc.Architectures = []string{"armel"}
	paths := build(t, &Builder{Recipe: rc, Version: "1.0"})
	assert.Len(t, paths, 1)

	rc.Architectures = []string{"armel", "armhf"}
	_, err := (&Builder{Recipe: rc, Version: "1.0", OutDir: t.TempDir(), TempDir: t.TempDir()}).Build(context.Background())
	// foo is armel only
	assert.ErrorIs(t, err, failure.ErrPackageMissing)
}

func TestBuildFailures(t *testing.T) {
	foo := makeDeb(t, "foo", "1.1", "")
	for _, tt := range []struct {
		name    string
		modify  func(*Builder)
		wantErr error
	}{
		{
			name:    "missing package",
			modify:  func(b *Builder) { b.Recipe.Packages = []string{"foo", "bar"} },
			wantErr: failure.ErrPackageMissing,
		},
		{
			name:    "no version",
			modify:  func(b *Builder) { b.Version = "" },
			wantErr: failure.ErrRecipeInvalid,
		},
		{
			name:    "version with whitespace",
			modify:  func(b *Builder) { b.Version = "1.0 beta" },
			wantErr: failure.ErrRecipeInvalid,
		},
		{
			name: "checksum mismatch",
			modify: func(b *Builder) {
				dir := strings.TrimSuffix(strings.TrimPrefix(b.Recipe.Sources[0].Entry, "file://"), " ./")
				corrupt := bytes.Replace(foo.Content, []byte("2.0\n"), []byte("9.9\n"), 1)
				if err := os.WriteFile(filepath.Join(dir, foo.Filename), corrupt, 0644); err != nil {
					panic(err)
				}
			},
			wantErr: failure.ErrPackageChecksumMismatch,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			b := &Builder{
				Recipe:  newRecipe(writeRepo(t, foo), "foo"),
				Version: "1.0",
				OutDir:  t.TempDir(),
				TempDir: t.TempDir(),
			}
			tt.modify(b)
			_, err := b.Build(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			entries, err := os.ReadDir(b.OutDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no artifact may be left behind")
			tmp, err := os.ReadDir(b.TempDir)
			require.NoError(t, err)
			assert.Empty(t, tmp, "fetch tree must be removed")
		})
	}
}
