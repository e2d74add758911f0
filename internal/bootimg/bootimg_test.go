package bootimg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/linaro/imagetools/internal/board"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/executor/executortest"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/media"
)

func TestMakeEnvBlock(t *testing.T) {
	entries := []board.EnvVar{
		{Key: "bootcmd", Value: "movi read kernel 0x40007000"},
		{Key: "ethact", Value: "smc911x-0"},
		{Key: "ethaddr", Value: "00:40:5c:26:0a:5b"},
	}
	const size = 16384
	b, err := MakeEnvBlock(entries, size)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != size {
		t.Fatalf("len = %d, want %d", len(b), size)
	}
	if got, want := binary.LittleEndian.Uint32(b[:4]), crc32.ChecksumIEEE(b[4:]); got != want {
		t.Errorf("crc = %#x, want %#x", got, want)
	}
	var got []board.EnvVar
	for _, kv := range bytes.Split(bytes.TrimRight(b[4:], "\x00"), []byte{0}) {
		k, v, _ := strings.Cut(string(kv), "=")
		got = append(got, board.EnvVar{Key: k, Value: v})
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("entries: diff (-want +got):\n%s", diff)
	}

	if _, err := MakeEnvBlock(entries, 32); err == nil {
		t.Errorf("MakeEnvBlock: got nil error for oversized environment")
	}
}

type fixture struct {
	rec     *executortest.Recorder
	st      *cleanup.Stack
	staging string
	bootDir string
	image   string
}

func newFixture(t *testing.T, staged map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		rec:     &executortest.Recorder{},
		st:      cleanup.NewStack(),
		staging: filepath.Join(dir, "staging"),
		bootDir: filepath.Join(dir, "boot-disc"),
		image:   filepath.Join(dir, "disk.img"),
	}
	for rel, content := range staged {
		fn := filepath.Join(f.staging, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(fn, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(f.bootDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.image, make([]byte, 8<<20), 0644); err != nil {
		t.Fatal(err)
	}
	f.rec.Handle("dd", executortest.DD)
	f.rec.Handle("cp", executortest.CP)
	f.rec.Handle("mkimage", executortest.MkImage)
	return f
}

func (f *fixture) assembler(t *testing.T, name string) *Assembler {
	t.Helper()
	p, err := board.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return &Assembler{
		Runner:      f.rec,
		Stack:       f.st,
		Profile:     p,
		StagingTree: f.staging,
		BootDir:     f.bootDir,
		Media:       &media.Media{Path: f.image, Kind: media.KindFile},
		ScratchDir:  t.TempDir(),
		Options:     board.BootOptions{RootUUID: "2e82008e-1af3-4699-8521-3bf5bac1e67a"},
	}
}

func (f *fixture) bootFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.bootDir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestBeagle(t *testing.T) {
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.38-1000-linaro-omap":    "kernel",
		"boot/initrd.img-2.6.38-1000-linaro-omap": "initrd",
		"usr/lib/x-loader/omap3530beagle/MLO":     "mlo",
		"usr/lib/u-boot/omap3_beagle/u-boot.bin":  "u-boot",
	})
	a := f.assembler(t, "beagle")
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"MLO", "boot.ini", "boot.scr", "u-boot.bin", "uImage", "uInitrd"}
	if diff := cmp.Diff(want, f.bootFiles(t)); diff != "" {
		t.Errorf("boot files: diff (-want +got):\n%s", diff)
	}
	lines := f.rec.Lines()
	if !strings.HasSuffix(lines[0], "/MLO") || !strings.HasPrefix(lines[0], "sudo cp -v ") {
		t.Errorf("first command = %q, want MLO copy", lines[0])
	}
	wantKernel := "sudo mkimage -A arm -O linux -T kernel -C none -a 0x80008000 -e 0x80008000 -n Linux -d " +
		filepath.Join(f.staging, "boot/vmlinuz-2.6.38-1000-linaro-omap") + " " + filepath.Join(f.bootDir, "uImage")
	if !f.rec.Contains(wantKernel) {
		t.Errorf("missing %q in\n%s", wantKernel, strings.Join(lines, "\n"))
	}
	if !f.rec.Contains("sudo mkimage -A arm -O linux -T ramdisk -C none -a 0 -e 0 -n initramfs -d ") {
		t.Errorf("uInitrd not built:\n%s", strings.Join(lines, "\n"))
	}

	scr, err := os.ReadFile(filepath.Join(f.bootDir, "boot.scr"))
	if err != nil {
		t.Fatal(err)
	}
	ini, err := os.ReadFile(filepath.Join(f.bootDir, "boot.ini"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(scr, ini) {
		t.Errorf("boot.ini differs from boot.scr")
	}
	wantScript := executortest.MkImageHeader + "boot script\n" +
		"setenv bootcmd 'fatload mmc 0:1 0x80000000 uImage; fatload mmc 0:1 0x81600000 uInitrd; bootm 0x80000000 0x81600000'\n" +
		"setenv bootargs ' console=tty0 console=ttyO2,115200n8  root=UUID=2e82008e-1af3-4699-8521-3bf5bac1e67a rootwait ro earlyprintk fixrtc nocompcache vram=12M omapfb.mode=dvi:1280x720MR-16@60'\n" +
		"boot"
	if diff := cmp.Diff(wantScript, string(scr)); diff != "" {
		t.Errorf("boot.scr: diff (-want +got):\n%s", diff)
	}

	// The boot script source is a scratch file removed during cleanup.
	if f.st.Len() != 1 {
		t.Errorf("cleanup stack has %d entries, want 1", f.st.Len())
	}
	f.st.Cleanup(nil)
	if rest, _ := os.ReadDir(a.ScratchDir); len(rest) != 0 {
		t.Errorf("scratch files left behind: %v", rest)
	}
}

func TestMx51evkRawLoader(t *testing.T) {
	loader := bytes.Repeat([]byte("IMX!"), 300)
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.38-1000-linaro-mx51":    "kernel",
		"boot/initrd.img-2.6.38-1000-linaro-mx51": "initrd",
		"usr/lib/u-boot/mx51evk/u-boot.imx":       string(loader),
	})
	a := f.assembler(t, "mx51evk")
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	dd := f.rec.Program("dd")
	if len(dd) != 1 {
		t.Fatalf("dd invoked %d times, want 1", len(dd))
	}
	want := []string{"dd", "if=" + filepath.Join(f.staging, "usr/lib/u-boot/mx51evk/u-boot.imx"), "of=" + f.image, "bs=512", "seek=2", "conv=notrunc"}
	if diff := cmp.Diff(want, dd[0].Args); diff != "" {
		t.Errorf("dd: diff (-want +got):\n%s", diff)
	}
	img, err := os.ReadFile(f.image)
	if err != nil {
		t.Fatal(err)
	}
	if got := img[1024 : 1024+len(loader)]; !bytes.Equal(got, loader) {
		t.Errorf("image bytes at 1024 do not match u-boot.imx")
	}
	if !bytes.Equal(img[:1024], make([]byte, 1024)) {
		t.Errorf("bytes before 1024 were modified")
	}
	if diff := cmp.Diff([]string{"boot.scr", "uImage", "uInitrd"}, f.bootFiles(t)); diff != "" {
		t.Errorf("boot files: diff (-want +got):\n%s", diff)
	}
}

func TestVexpressNoScript(t *testing.T) {
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.38-1000-linaro-vexpress":    "kernel",
		"boot/initrd.img-2.6.38-1000-linaro-vexpress": "initrd",
	})
	if err := f.assembler(t, "vexpress").Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"uImage", "uInitrd"}, f.bootFiles(t)); diff != "" {
		t.Errorf("boot files: diff (-want +got):\n%s", diff)
	}
}

func TestOrigenRawRegions(t *testing.T) {
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.39-1000-origen":           "kernel",
		"boot/initrd.img-2.6.39-1000-origen":        "initrd",
		"usr/lib/u-boot/origen/u-boot-mmc-spl.bin": "spl",
		"usr/lib/u-boot/origen/u-boot.bin":         "u-boot",
	})
	a := f.assembler(t, "origen")
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	var seeks []string
	for _, c := range f.rec.Program("dd") {
		for _, arg := range c.Args {
			if strings.HasPrefix(arg, "seek=") {
				seeks = append(seeks, arg)
			}
		}
	}
	if diff := cmp.Diff([]string{"seek=1", "seek=33", "seek=65", "seek=1089", "seek=9281"}, seeks); diff != "" {
		t.Errorf("raw write order: diff (-want +got):\n%s", diff)
	}
	img, err := os.ReadFile(f.image)
	if err != nil {
		t.Fatal(err)
	}
	env := img[33*512 : 65*512]
	if got, want := binary.LittleEndian.Uint32(env[:4]), crc32.ChecksumIEEE(env[4:]); got != want {
		t.Errorf("env block crc = %#x, want %#x", got, want)
	}
	if !bytes.HasPrefix(env[4:], []byte("bootcmd=movi read kernel 0x40007000;")) {
		t.Errorf("env block payload starts with %q", env[4:40])
	}
	if got := img[512 : 512+3]; string(got) != "spl" {
		t.Errorf("BL1 at sector 1 = %q, want spl", got)
	}
	if got := img[65*512 : 65*512+6]; string(got) != "u-boot" {
		t.Errorf("BL2 at sector 65 = %q, want u-boot", got)
	}
	if got := img[1089*512 : 1089*512+4]; string(got) != executortest.MkImageHeader {
		t.Errorf("uImage at sector 1089 = %q", got)
	}
}

func TestRawWriteTooLarge(t *testing.T) {
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.39-1000-origen":           "kernel",
		"boot/initrd.img-2.6.39-1000-origen":        "initrd",
		"usr/lib/u-boot/origen/u-boot-mmc-spl.bin": strings.Repeat("x", 33*512),
		"usr/lib/u-boot/origen/u-boot.bin":         "u-boot",
	})
	err := f.assembler(t, "origen").Run(context.Background())
	if !errors.Is(err, failure.ErrRawWriteFailed) {
		t.Fatalf("Run: got %v, want RawWriteFailed", err)
	}
	if len(f.rec.Program("dd")) != 0 {
		t.Errorf("dd ran although the loader does not fit")
	}
}

func TestAmbiguousKernel(t *testing.T) {
	f := newFixture(t, map[string]string{
		"boot/vmlinuz-2.6.38-1000-linaro-vexpress":    "kernel",
		"boot/vmlinuz-2.6.38-1001-linaro-vexpress":    "kernel",
		"boot/initrd.img-2.6.38-1000-linaro-vexpress": "initrd",
	})
	err := f.assembler(t, "vexpress").Run(context.Background())
	if !errors.Is(err, failure.ErrArtifactLookupAmbiguous) {
		t.Fatalf("Run: got %v, want ArtifactLookupAmbiguous", err)
	}
	if !strings.Contains(failure.Describe(err), "boot/vmlinuz-*-linaro-vexpress") {
		t.Errorf("Describe(%v) does not name the glob", err)
	}
}

func TestWriteRawFailure(t *testing.T) {
	rec := &executortest.Recorder{}
	rec.Handle("dd", func(c *executor.Command) ([]byte, error) {
		return nil, &failure.SubprocessError{Args: c.Args, ExitStatus: 1, Stderr: "dd: No space left on device"}
	})
	err := media.WriteRaw(context.Background(), rec, "u-boot.imx", "/dev/sdx", 2, 0, 0)
	if !errors.Is(err, failure.ErrRawWriteFailed) {
		t.Fatalf("WriteRaw: got %v, want RawWriteFailed", err)
	}
	if !errors.Is(err, failure.ErrSubprocessNonZero) {
		t.Errorf("WriteRaw: lost the subprocess cause")
	}
}
