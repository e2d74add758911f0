package recipe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/linaro/imagetools/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const panda = `[hwpack]
name = panda
version = 20110302
architectures = armel armel
packages = linux-image-omap4 u-boot-linaro-omap4-panda
  x-loader-omap4-panda
  linux-image-omap4
include-debs = no
support = supported
origin = Linaro
maintainer = Linaro Infrastructure <infrastructure@linaro.org>
assume-installed = ubiquity-slideshow-ubuntu

[ubuntu]
sources-entry = http://ports.ubuntu.com/ubuntu-ports natty main universe

[linaro-overlay]
sources-entry = http://ppa.launchpad.net/linaro-maintainers/overlay/ubuntu natty main
`

func TestParse(t *testing.T) {
	rc, err := Parse(strings.NewReader(panda))
	require.NoError(t, err)
	want := &Recipe{
		Name:            "panda",
		Version:         "20110302",
		Architectures:   []string{"armel"},
		Packages:        []string{"linux-image-omap4", "u-boot-linaro-omap4-panda", "x-loader-omap4-panda"},
		AssumeInstalled: []string{"ubiquity-slideshow-ubuntu"},
		IncludeDebs:     false,
		Support:         SupportSupported,
		Origin:          "Linaro",
		Maintainer:      "Linaro Infrastructure <infrastructure@linaro.org>",
		Sources: []Source{
			{ID: "ubuntu", Entry: "http://ports.ubuntu.com/ubuntu-ports natty main universe"},
			{ID: "linaro-overlay", Entry: "http://ppa.launchpad.net/linaro-maintainers/overlay/ubuntu natty main"},
		},
	}
	assert.Equal(t, want, rc)
	assert.Equal(t, "hwpack_panda_20110302_armel_supported.tar.gz", rc.Filename(rc.Version, "armel"))
}

func TestDefaults(t *testing.T) {
	rc, err := Parse(strings.NewReader("[hwpack]\nname = ahwpack\narchitectures = armel\npackages = foo\n\n[ubuntu]\nsources-entry = file:///srv/repo ./\n"))
	require.NoError(t, err)
	assert.True(t, rc.IncludeDebs)
	assert.Empty(t, rc.Version)
	assert.Empty(t, rc.Support)
	assert.Equal(t, "hwpack_ahwpack_1.0_armel.tar.gz", rc.Filename("1.0", "armel"))
}

func TestRenderRoundTrip(t *testing.T) {
	rc, err := Parse(strings.NewReader(panda))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, rc.Render(&buf))
	again, err := Parse(&buf)
	require.NoError(t, err, "rendered:\n%s", buf.String())
	assert.Equal(t, rc, again)
}

func TestInvalid(t *testing.T) {
	const sources = "\n[ubuntu]\nsources-entry = http://ports.ubuntu.com/ubuntu-ports natty main\n"
	for _, tt := range []struct {
		name        string
		recipe      string
		wantLocator string
	}{
		{"no main section", "[ubuntu]\nsources-entry = http://x natty\n", "[hwpack]"},
		{"no name", "[hwpack]\narchitectures = armel\npackages = foo\n" + sources, "[hwpack] name"},
		{"bad name", "[hwpack]\nname = Panda\narchitectures = armel\npackages = foo\n" + sources, "[hwpack] name"},
		{"short name", "[hwpack]\nname = p\narchitectures = armel\npackages = foo\n" + sources, "[hwpack] name"},
		{"bad include-debs", "[hwpack]\nname = panda\ninclude-debs = maybe\narchitectures = armel\npackages = foo\n" + sources, "[hwpack] include-debs"},
		{"bad support", "[hwpack]\nname = panda\nsupport = sometimes\narchitectures = armel\npackages = foo\n" + sources, "[hwpack] support"},
		{"no packages", "[hwpack]\nname = panda\narchitectures = armel\n" + sources, "[hwpack] packages"},
		{"bad package", "[hwpack]\nname = panda\narchitectures = armel\npackages = Foo_bar\n" + sources, "[hwpack] packages"},
		{"no architectures", "[hwpack]\nname = panda\npackages = foo\n" + sources, "[hwpack] architectures"},
		{"bad assume-installed", "[hwpack]\nname = panda\narchitectures = armel\npackages = foo\nassume-installed = B@r\n" + sources, "[hwpack] assume-installed"},
		{"no sources", "[hwpack]\nname = panda\narchitectures = armel\npackages = foo\n", ""},
		{"deb prefix", "[hwpack]\nname = panda\narchitectures = armel\npackages = foo\n\n[ubuntu]\nsources-entry = deb http://x natty main\n", "[ubuntu] sources-entry"},
		{"no dist", "[hwpack]\nname = panda\narchitectures = armel\npackages = foo\n\n[ubuntu]\nsources-entry = http://x\n", "[ubuntu] sources-entry"},
		{"no sources-entry", "[hwpack]\nname = panda\narchitectures = armel\npackages = foo\n\n[ubuntu]\nuri = http://x\n", "[ubuntu] sources-entry"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.recipe))
			require.ErrorIs(t, err, failure.ErrRecipeInvalid)
			var fe *failure.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantLocator, fe.Param)
		})
	}
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion("1.0"))
	assert.ErrorIs(t, ValidateVersion("1.0 beta"), failure.ErrRecipeInvalid)
	assert.ErrorIs(t, ValidateVersion(""), failure.ErrRecipeInvalid)
}
