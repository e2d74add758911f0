// Package imagebuild drives one image build: it unpacks the root filesystem,
// installs hardware packs, lays out the media, assembles the boot region and
// populates the root region.
package imagebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/linaro/imagetools/internal/board"
	"github.com/linaro/imagetools/internal/bootimg"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/layout"
	"github.com/linaro/imagetools/internal/measure"
	"github.com/linaro/imagetools/internal/media"
	"github.com/linaro/imagetools/internal/rootfs"
	"github.com/sirupsen/logrus"
)

// Job is one image build.
type Job struct {
	Runner executor.Runner
	Board  *board.Profile
	Media  *media.Media

	RootfsTarball string
	HWPacks       []string
	// HWPackInstaller is copied into the chroot to install HWPacks.
	HWPackInstaller string

	ImageSize  string
	BootLabel  string
	RootLabel  string
	RootFSType string

	Consoles []string
	Live     bool
	Lowmem   bool
	SwapMiB  int

	CreatePartitions bool
	FormatBoot       bool
	FormatRoot       bool

	// RootUUID identifies the root filesystem in fstab and on the kernel
	// command line.
	RootUUID string

	// TempDir is the parent of the job's scratch directory; empty means
	// os.TempDir().
	TempDir string

	SettleTimeout time.Duration
	// ProbeUUID overrides the layout engine's UUID probe.
	ProbeUUID func(ctx context.Context, r executor.Runner, dev string) (string, error)
}

// NewJob returns a job with the default labels, filesystem and size, doing
// all steps, with a fresh root filesystem UUID.
func NewJob(r executor.Runner, b *board.Profile, m *media.Media) *Job {
	return &Job{
		Runner:           r,
		Board:            b,
		Media:            m,
		ImageSize:        "2G",
		BootLabel:        "boot",
		RootLabel:        "rootfs",
		RootFSType:       "ext4",
		CreatePartitions: true,
		FormatBoot:       true,
		FormatRoot:       true,
		RootUUID:         uuid.New().String(),
	}
}

// Run performs the build. All acquired resources (loopback devices, mounts,
// the scratch directory) are released before Run returns, also on failure.
func (j *Job) Run(ctx context.Context) (err error) {
	st := cleanup.NewStack()
	defer func() { err = st.Cleanup(err) }()

	scratch, err := os.MkdirTemp(j.TempDir, "lmc-")
	if err != nil {
		return err
	}
	st.Push("remove "+scratch, func() error {
		// The staging tree is owned by root. A mount point that failed to
		// unmount must not be descended into.
		return executor.Sudo(context.Background(), j.Runner, "rm", "-rf", "--one-file-system", scratch)
	})

	fmt.Printf("Building %s image for board %s on %s\n", j.RootFSType, j.Board.Name, j.Media)

	var staging string
	if j.FormatBoot || j.FormatRoot {
		unpackDir := filepath.Join(scratch, "rootfs")
		if err := os.MkdirAll(unpackDir, 0755); err != nil {
			return err
		}
		if err := measure.Phase("unpacking "+filepath.Base(j.RootfsTarball), func() error {
			var err error
			staging, err = rootfs.Unpack(ctx, j.Runner, j.RootfsTarball, unpackDir)
			return err
		}); err != nil {
			return err
		}
		if len(j.HWPacks) > 0 {
			in := &rootfs.Installer{Runner: j.Runner, Script: j.HWPackInstaller}
			if err := measure.Phase("installing hwpacks", func() error {
				return in.Install(ctx, staging, j.HWPacks)
			}); err != nil {
				return err
			}
		}
	}

	engine := &layout.Engine{
		Runner:        j.Runner,
		Stack:         st,
		SettleTimeout: j.SettleTimeout,
		ProbeUUID:     j.ProbeUUID,
	}
	var regions *layout.Result
	if err := measure.Phase("setting up "+j.Media.Path, func() error {
		var err error
		regions, err = engine.Setup(ctx, layout.Options{
			Profile:          j.Board,
			Media:            j.Media,
			ImageSize:        j.ImageSize,
			BootLabel:        j.BootLabel,
			RootLabel:        j.RootLabel,
			RootFSType:       j.RootFSType,
			RootUUID:         j.RootUUID,
			CreatePartitions: j.CreatePartitions,
			FormatBoot:       j.FormatBoot,
			FormatRoot:       j.FormatRoot,
		})
		return err
	}); err != nil {
		return err
	}
	j.RootUUID = regions.RootUUID
	logrus.Infof("boot: %s, root: %s (UUID %s)", regions.Boot.Device, regions.Root.Device, regions.RootUUID)

	if j.FormatBoot {
		if err := measure.Phase("populating boot partition", func() error {
			return j.populateBoot(ctx, st, scratch, staging, regions.Boot.Device)
		}); err != nil {
			return err
		}
	}

	if j.FormatRoot {
		p := &rootfs.Populator{Runner: j.Runner, Stack: st, ScratchDir: scratch}
		if err := measure.Phase("populating rootfs partition", func() error {
			return p.Populate(ctx, rootfs.PopulateOptions{
				StagingTree:   staging,
				RootDevice:    regions.Root.Device,
				RootUUID:      regions.RootUUID,
				FSType:        j.RootFSType,
				SwapMiB:       j.SwapMiB,
				MMCPartOffset: j.Board.MMCPartOffset,
			})
		}); err != nil {
			return err
		}
	}

	fmt.Printf("Done creating image on %s\n", j.Media.Path)
	return nil
}

func (j *Job) populateBoot(ctx context.Context, st *cleanup.Stack, scratch, staging, dev string) error {
	m, err := media.MountAt(ctx, j.Runner, st, dev, filepath.Join(scratch, "boot-disc"))
	if err != nil {
		return err
	}
	a := &bootimg.Assembler{
		Runner:      j.Runner,
		Stack:       st,
		Profile:     j.Board,
		StagingTree: staging,
		BootDir:     m.Dir,
		Media:       j.Media,
		ScratchDir:  scratch,
		Options: board.BootOptions{
			Consoles: j.Consoles,
			Live:     j.Live,
			Lowmem:   j.Lowmem,
			RootUUID: j.RootUUID,
		},
	}
	if err := a.Run(ctx); err != nil {
		return err
	}
	if err := m.Unmount(); err != nil {
		return failure.New(failure.KindMediaSetupFailed, dev, err)
	}
	return nil
}
