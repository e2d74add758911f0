package rootfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/sirupsen/logrus"
)

// InstallerName is the program, inside the staging tree, which installs one
// hardware pack.
const InstallerName = "linaro-hwpack-install"

// Installer installs hardware packs into a staging tree by running the
// installer inside a chroot.
type Installer struct {
	Runner executor.Runner

	// Script is copied into the chroot as /usr/bin/linaro-hwpack-install.
	Script string

	// HostArch defaults to runtime.GOARCH. On non-ARM hosts, QemuStatic is
	// copied into the chroot so that ARM binaries can run.
	HostArch   string
	QemuStatic string

	// ResolvConf and Hosts replace the corresponding files inside the chroot
	// for the duration of the installation. They default to the host's.
	ResolvConf string
	Hosts      string
}

func (in *Installer) hostArch() string {
	if in.HostArch != "" {
		return in.HostArch
	}
	return runtime.GOARCH
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

// Install installs hwpacks, in order, into tree. Everything Install changes
// in tree besides the installation itself is reverted before it returns.
func (in *Installer) Install(ctx context.Context, tree string, hwpacks []string) (err error) {
	st := cleanup.NewStack()
	defer func() { err = st.Cleanup(err) }()

	r := in.Runner
	usrBin := filepath.Join(tree, "usr", "bin")
	if !strings.HasPrefix(in.hostArch(), "arm") {
		qemu := orDefault(in.QemuStatic, "/usr/bin/qemu-arm-static")
		if err := in.copyTemporarily(ctx, st, qemu, filepath.Join(usrBin, filepath.Base(qemu))); err != nil {
			return err
		}
	}
	if err := in.copyTemporarily(ctx, st, in.Script, filepath.Join(usrBin, InstallerName)); err != nil {
		return err
	}

	etc := filepath.Join(tree, "etc")
	for _, f := range []string{
		orDefault(in.ResolvConf, "/etc/resolv.conf"),
		orDefault(in.Hosts, "/etc/hosts"),
	} {
		if err := in.overwriteTemporarily(ctx, st, f, filepath.Join(etc, filepath.Base(f))); err != nil {
			return err
		}
	}

	proc := filepath.Join(tree, "proc")
	if err := executor.Sudo(ctx, r, "mount", "proc", proc, "-t", "proc"); err != nil {
		return fmt.Errorf("mounting %s: %w", proc, err)
	}
	st.Push("umount "+proc, func() error {
		return executor.Sudo(context.Background(), r, "umount", "-v", proc)
	})

	for _, hwpack := range hwpacks {
		logrus.Infof("installing hwpack %s", hwpack)
		base := filepath.Base(hwpack)
		if err := in.copyTemporarily(ctx, st, hwpack, filepath.Join(tree, base)); err != nil {
			return err
		}
		if err := executor.Sudo(ctx, r, "chroot", tree, InstallerName, "/"+base); err != nil {
			return fmt.Errorf("installing %s: %w", hwpack, err)
		}
	}
	return nil
}

// copyTemporarily copies src to dst as root and pushes dst's removal.
func (in *Installer) copyTemporarily(ctx context.Context, st *cleanup.Stack, src, dst string) error {
	if err := executor.Sudo(ctx, in.Runner, "cp", src, dst); err != nil {
		return fmt.Errorf("copying %s into the chroot: %w", src, err)
	}
	st.Push("remove "+dst, func() error {
		return executor.Sudo(context.Background(), in.Runner, "rm", "-f", dst)
	})
	return nil
}

// overwriteTemporarily replaces dst with src. The original dst, if any, is
// restored during cleanup.
func (in *Installer) overwriteTemporarily(ctx context.Context, st *cleanup.Stack, src, dst string) error {
	r := in.Runner
	if _, err := os.Lstat(dst); err == nil {
		saved := dst + ".old"
		if err := executor.Sudo(ctx, r, "mv", "-f", dst, saved); err != nil {
			return err
		}
		st.Push("restore "+dst, func() error {
			return executor.Sudo(context.Background(), r, "mv", "-f", saved, dst)
		})
	} else {
		st.Push("remove "+dst, func() error {
			return executor.Sudo(context.Background(), r, "rm", "-f", dst)
		})
	}
	return executor.Sudo(ctx, r, "cp", src, dst)
}
