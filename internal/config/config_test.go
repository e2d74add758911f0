package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadFromFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "beagle.json")
	const content = `{
  "Board": "beagle",
  "ImageFile": "beagle.img",
  "Binary": "linaro-natty-nano.tar.gz",
  "HWPacks": ["hwpack_linaro-omap3_20110302_armel_supported.tar.gz"],
  "Consoles": ["ttyO2,115200n8"],
  "SwapMiB": 256
}`
	if err := os.WriteFile(fn, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFromFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := &Struct{
		Board:     "beagle",
		ImageFile: "beagle.img",
		Binary:    "linaro-natty-nano.tar.gz",
		HWPacks:   []string{"hwpack_linaro-omap3_20110302_armel_supported.tar.gz"},
		Consoles:  []string{"ttyO2,115200n8"},
		SwapMiB:   256,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadFromFile: unexpected config (-want +got):\n%s", diff)
	}
}

func TestReadFromFileInvalid(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(fn, []byte(`{"Board": 1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFromFile(fn); err == nil {
		t.Fatal("ReadFromFile unexpectedly succeeded")
	}
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "missing.json")); !os.IsNotExist(err) {
		t.Fatalf("ReadFromFile(missing) = %v, want not-exist error", err)
	}
}
