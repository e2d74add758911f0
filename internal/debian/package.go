package debian

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// relationFields are the relationship fields carried into Packages indexes,
// in index order.
var relationFields = []string{"Depends", "Pre-Depends", "Conflicts", "Recommends", "Provides", "Replaces", "Breaks"}

// Package is a binary package as described by a Packages index entry.
type Package struct {
	Name         string
	Version      string
	Architecture string
	// Filename is relative to the repository root.
	Filename string
	Size     int64
	MD5Sum   string

	// Relations maps relationship field names (Depends, Pre-Depends,
	// Conflicts, Recommends, ...) to their unparsed values.
	Relations map[string]string

	// Content holds the .deb bytes when downloaded.
	Content []byte
}

// PackageFromParagraph reads an index or control paragraph.
func PackageFromParagraph(p Paragraph) (*Package, error) {
	pkg := &Package{
		Name:         p.Get("Package"),
		Version:      p.Get("Version"),
		Architecture: p.Get("Architecture"),
		Filename:     p.Get("Filename"),
		MD5Sum:       p.Get("MD5sum"),
	}
	if pkg.Name == "" || pkg.Version == "" {
		return nil, fmt.Errorf("paragraph without Package or Version field")
	}
	if s := p.Get("Size"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("package %s: invalid Size %q", pkg.Name, s)
		}
		pkg.Size = n
	}
	for _, name := range relationFields {
		if v := p.Get(name); v != "" {
			if pkg.Relations == nil {
				pkg.Relations = make(map[string]string)
			}
			pkg.Relations[name] = v
		}
	}
	return pkg, nil
}

// Depends returns the parsed Pre-Depends and Depends fields.
func (p *Package) Depends() (Relations, error) {
	var all Relations
	for _, field := range []string{"Pre-Depends", "Depends"} {
		rels, err := ParseRelations(p.Relations[field])
		if err != nil {
			return nil, fmt.Errorf("%s %s: %v", p.Name, field, err)
		}
		all = append(all, rels...)
	}
	return all, nil
}

// Provides returns the virtual package names p provides.
func (p *Package) Provides() []string {
	rels, err := ParseRelations(p.Relations["Provides"])
	if err != nil {
		return nil
	}
	var names []string
	for _, alts := range rels {
		for _, r := range alts {
			names = append(names, r.Name)
		}
	}
	return names
}

// Paragraph renders p as a Packages index entry.
func (p *Package) Paragraph() Paragraph {
	para := Paragraph{{Name: "Package", Value: p.Name}}
	if p.Architecture != "" {
		para = append(para, Field{Name: "Architecture", Value: p.Architecture})
	}
	para = append(para,
		Field{Name: "Version", Value: p.Version},
		Field{Name: "Filename", Value: p.Filename},
		Field{Name: "Size", Value: strconv.FormatInt(p.Size, 10)},
		Field{Name: "MD5sum", Value: p.MD5Sum})
	for _, name := range relationFields {
		if v := p.Relations[name]; v != "" {
			para = append(para, Field{Name: name, Value: v})
		}
	}
	return para
}

// DebName returns the canonical file name name_version_arch.deb. The epoch
// is not part of file names.
func (p *Package) DebName() string {
	version := p.Version
	if _, rest, ok := strings.Cut(version, ":"); ok {
		version = rest
	}
	return fmt.Sprintf("%s_%s_%s.deb", p.Name, version, p.Architecture)
}

// Equal reports whether p and q describe the same artifact. Contents are
// compared only when both are present.
func (p *Package) Equal(q *Package) bool {
	if p.Name != q.Name ||
		p.Version != q.Version ||
		p.Architecture != q.Architecture ||
		p.Filename != q.Filename ||
		p.Size != q.Size ||
		p.MD5Sum != q.MD5Sum {
		return false
	}
	if len(p.Relations) != len(q.Relations) {
		return false
	}
	for k, v := range p.Relations {
		if q.Relations[k] != v {
			return false
		}
	}
	if p.Content != nil && q.Content != nil {
		return bytes.Equal(p.Content, q.Content)
	}
	return true
}

// Hash identifies the artifact by name, version, file name, size and MD5.
func (p *Package) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s", p.Name, p.Version, p.Filename, p.Size, p.MD5Sum)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks b against p's size and MD5.
func (p *Package) Verify(b []byte) error {
	if int64(len(b)) != p.Size {
		return fmt.Errorf("%s: size %d, want %d", p.Filename, len(b), p.Size)
	}
	if got := MD5Sum(b); got != p.MD5Sum {
		return fmt.Errorf("%s: md5sum %s, want %s", p.Filename, got, p.MD5Sum)
	}
	return nil
}

func MD5Sum(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// PackageFromDeb describes the .deb content b, named filename.
func PackageFromDeb(filename string, b []byte) (*Package, error) {
	control, err := ReadControl(bytes.NewReader(b), filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	pkg, err := PackageFromParagraph(control)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	pkg.Filename = filename
	pkg.Size = int64(len(b))
	pkg.MD5Sum = MD5Sum(b)
	pkg.Content = b
	return pkg, nil
}

// ReadDeb reads the .deb file at path. The resulting Filename is path's base
// name.
func ReadDeb(path string) (*Package, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return PackageFromDeb(filepath.Base(path), b)
}
