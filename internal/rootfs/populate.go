package rootfs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/media"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const swapFile = "SWAP.swap"

// freeBytes is replaced in tests.
var freeBytes = func(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// Populator moves a staging tree onto the root region.
type Populator struct {
	Runner executor.Runner
	Stack  *cleanup.Stack
	// ScratchDir holds the mount point and files later moved over
	// root-owned targets.
	ScratchDir string
}

type PopulateOptions struct {
	StagingTree string
	RootDevice  string
	RootUUID    string
	FSType      string
	// SwapMiB is the size of /SWAP.swap. Zero disables swap.
	SwapMiB int
	// MMCPartOffset is the board's partition index offset, used for the
	// flash-kernel boot partition hint.
	MMCPartOffset int
}

// FstabEntry returns the fstab line mounting the root filesystem.
func FstabEntry(rootUUID, fsType string) string {
	return fmt.Sprintf("UUID=%s / %s  errors=remount-ro 0 1", rootUUID, fsType)
}

// Populate mounts the root region, moves the staging tree onto it, writes
// fstab, the optional swap file and /etc/flash-kernel.conf, then unmounts.
func (p *Populator) Populate(ctx context.Context, opts PopulateOptions) error {
	r := p.Runner
	dir := filepath.Join(p.ScratchDir, "root-disk")
	m, err := media.MountAt(ctx, r, p.Stack, opts.RootDevice, dir)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(opts.StagingTree)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		args := []string{"mv", "-f"}
		for _, e := range entries {
			args = append(args, filepath.Join(opts.StagingTree, e.Name()))
		}
		args = append(args, dir)
		if err := executor.Sudo(ctx, r, args...); err != nil {
			return fmt.Errorf("moving %s to the root filesystem: %w", opts.StagingTree, err)
		}
	}

	fstab := []string{FstabEntry(opts.RootUUID, opts.FSType)}
	if opts.SwapMiB > 0 {
		ok, err := p.createSwap(ctx, dir, opts.SwapMiB)
		if err != nil {
			return err
		}
		if ok {
			fstab = append(fstab, "/"+swapFile+"  none  swap  sw  0 0")
		}
	}
	if err := p.appendToFstab(ctx, dir, fstab); err != nil {
		return err
	}

	flashKernel := fmt.Sprintf("UBOOT_PART=/dev/mmcblk0p%d\n", 1+opts.MMCPartOffset)
	if err := p.writeProtected(ctx, filepath.Join(dir, "etc", "flash-kernel.conf"), []byte(flashKernel)); err != nil {
		return err
	}

	if err := m.Unmount(); err != nil {
		return failure.New(failure.KindMediaSetupFailed, opts.RootDevice, err)
	}
	return nil
}

// createSwap reports whether the swap file was created. Insufficient free
// space is not an error.
func (p *Populator) createSwap(ctx context.Context, dir string, mib int) (bool, error) {
	free, err := freeBytes(dir)
	if err != nil {
		return false, err
	}
	want := uint64(mib) << 20
	if free < want {
		logrus.Warnf("not creating a %d MiB swap file: only %s free on the root filesystem",
			mib, humanize.IBytes(free))
		return false, nil
	}
	fn := filepath.Join(dir, swapFile)
	if err := executor.Sudo(ctx, p.Runner,
		"dd", "if=/dev/zero", "of="+fn, "bs=1M", "count="+strconv.Itoa(mib)); err != nil {
		return false, fmt.Errorf("creating swap file: %w", err)
	}
	if err := executor.Sudo(ctx, p.Runner, "mkswap", fn); err != nil {
		return false, fmt.Errorf("creating swap file: %w", err)
	}
	return true, nil
}

func (p *Populator) appendToFstab(ctx context.Context, dir string, lines []string) error {
	fn := filepath.Join(dir, "etc", "fstab")
	b, err := os.ReadFile(fn)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	var buf bytes.Buffer
	buf.Write(b)
	if len(b) > 0 && !bytes.HasSuffix(b, []byte("\n")) {
		buf.WriteByte('\n')
	}
	for _, l := range lines {
		buf.WriteString(l + "\n")
	}
	return p.writeProtected(ctx, fn, buf.Bytes())
}

// writeProtected replaces the root-owned file target with data: data is
// written to the scratch directory and then moved over target as root.
func (p *Populator) writeProtected(ctx context.Context, target string, data []byte) error {
	tmp := filepath.Join(p.ScratchDir, filepath.Base(target))
	if err := renameio.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := executor.Sudo(ctx, p.Runner, "mv", "-f", tmp, target); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
