// Package layout materializes a board's partition plan on the target media,
// formats the boot and root filesystems and exposes them as device paths.
package layout

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/linaro/imagetools/internal/board"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/media"
	"github.com/linaro/imagetools/internal/partition"
	"github.com/sirupsen/logrus"
)

// RootFSTypes lists the supported root filesystem types.
var RootFSTypes = []string{"ext2", "ext3", "ext4", "btrfs"}

// Options configures one layout run.
type Options struct {
	Profile *board.Profile
	Media   *media.Media
	// ImageSize is used when creating an image file, e.g. "2G".
	ImageSize  string
	BootLabel  string
	RootLabel  string
	RootFSType string
	// RootUUID is assigned to the root filesystem when it is formatted.
	// When empty, a new UUID is generated.
	RootUUID string

	CreatePartitions bool
	FormatBoot       bool
	FormatRoot       bool
}

// Region is a filesystem on the media.
type Region struct {
	Device string
	FSType string
	Label  string
	UUID   string
}

type Result struct {
	Boot     Region
	Root     Region
	RootUUID string
	// Plan is nil when the partition table was not (re)created.
	Plan *partition.Plan
}

// Engine performs the layout. Loopback devices created for image files are
// registered on Stack.
type Engine struct {
	Runner executor.Runner
	Stack  *cleanup.Stack

	// SettleTimeout bounds the wait for partition device nodes.
	SettleTimeout time.Duration

	// ProbeUUID reads the filesystem UUID of a device. Defaults to a blkid
	// probe.
	ProbeUUID func(ctx context.Context, r executor.Runner, dev string) (string, error)
}

func validRootFSType(fs string) bool {
	for _, t := range RootFSTypes {
		if t == fs {
			return true
		}
	}
	return false
}

// Setup runs the layout steps in strict order: size the media, write the
// partition table, wait for partition nodes, resolve the regions, format.
func (e *Engine) Setup(ctx context.Context, opts Options) (*Result, error) {
	if !validRootFSType(opts.RootFSType) {
		return nil, fmt.Errorf("unsupported root filesystem type %q (supported: %v)", opts.RootFSType, RootFSTypes)
	}
	m := opts.Media
	res := &Result{RootUUID: opts.RootUUID}
	if res.RootUUID == "" {
		res.RootUUID = uuid.New().String()
	}

	if opts.CreatePartitions {
		plan, err := e.partition(ctx, opts)
		if err != nil {
			return nil, err
		}
		res.Plan = plan
	}

	var bootDev, rootDev string
	if m.IsBlock() {
		// Boards with a raw bootloader partition in front of the boot
		// partition have MMCPartOffset 1 and therefore 3 partitions.
		parts := m.Partitions()
		if want := opts.Profile.RootPartition(); len(parts) != want {
			return nil, failure.Errorf(failure.KindPartitionLayoutUnexpected, m.Path,
				"found %d partitions, board %s wants %d", len(parts), opts.Profile.Name, want)
		}
		bootDev = parts[opts.Profile.BootPartition()-1]
		rootDev = parts[opts.Profile.RootPartition()-1]
	} else {
		boot, root, err := partition.ReadRegions(m.Path)
		if err != nil {
			return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
		}
		if bootDev, err = media.BindLoopback(ctx, e.Runner, e.Stack, m.Path, boot.Offset, boot.Size); err != nil {
			return nil, err
		}
		if rootDev, err = media.BindLoopback(ctx, e.Runner, e.Stack, m.Path, root.Offset, root.Size); err != nil {
			return nil, err
		}
	}
	res.Boot = Region{Device: bootDev, FSType: "vfat", Label: opts.BootLabel}
	res.Root = Region{Device: rootDev, FSType: opts.RootFSType, Label: opts.RootLabel}

	if opts.FormatBoot {
		if err := e.formatBoot(ctx, res.Boot.Device, opts); err != nil {
			return nil, err
		}
	}
	if opts.FormatRoot {
		rootUUID, err := e.formatRoot(ctx, res.Root.Device, res.RootUUID, opts)
		if err != nil {
			return nil, err
		}
		res.RootUUID = rootUUID
	} else {
		// The existing filesystem keeps its UUID, which boot scripts and
		// fstab must reference.
		rootUUID, err := e.probe(ctx, res.Root.Device)
		if err != nil {
			return nil, failure.New(failure.KindMediaSetupFailed, res.Root.Device, err)
		}
		res.RootUUID = rootUUID
	}
	res.Root.UUID = res.RootUUID
	return res, nil
}

func (e *Engine) partition(ctx context.Context, opts Options) (*partition.Plan, error) {
	m := opts.Media
	var cylinders int
	if m.IsBlock() {
		size, err := m.Size()
		if err != nil {
			return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
		}
		cylinders = partition.Cylinders(size)
	} else {
		size, err := partition.ParseImageSize(opts.ImageSize)
		if err != nil {
			return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
		}
		size = partition.AlignImageSize(size)
		cylinders = partition.Cylinders(size)
		logrus.Infof("creating %s: %d bytes, %d cylinders", m.Path, size, cylinders)
		if err := m.CreateSparse(size); err != nil {
			return nil, err
		}
	}

	plan, err := partition.NewPlan(opts.Profile.Partitions, cylinders)
	if err != nil {
		return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}

	if m.IsBlock() {
		if err := e.writeEmptyMBR(ctx, m); err != nil {
			return nil, err
		}
	}

	script := plan.SfdiskScript()
	logrus.Debugf("sfdisk script for %s:\n%s", m.Path, script)
	if _, err := e.Runner.Run(ctx, &executor.Command{
		Args:   partition.SfdiskArgs(m.Path, cylinders),
		Stdin:  []byte(script),
		AsRoot: m.IsBlock(),
	}); err != nil {
		return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}
	if err := executor.Run(ctx, e.Runner, "sync"); err != nil {
		return nil, failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}

	if m.IsBlock() {
		m.RereadPartitions()
		var nodes []string
		for i := range plan.Segments {
			nodes = append(nodes, m.PartitionPath(i+1))
		}
		timeout := e.SettleTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		if err := media.WaitForNodes(ctx, timeout, nodes...); err != nil {
			return nil, failure.Errorf(failure.KindMediaSetupFailed, m.Path, "partition device nodes did not appear: %v", err)
		}
	}
	return plan, nil
}

func (e *Engine) writeEmptyMBR(ctx context.Context, m *media.Media) error {
	var buf bytes.Buffer
	if err := partition.WriteEmptyMBR(&buf); err != nil {
		return err
	}
	f, err := os.CreateTemp("", "mbr-")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := media.WriteRaw(ctx, e.Runner, f.Name(), m.Path, 0, 0, 1); err != nil {
		return failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}
	return nil
}

func (e *Engine) formatBoot(ctx context.Context, dev string, opts Options) error {
	if err := media.EnsureUnmounted(ctx, e.Runner, dev); err != nil {
		return err
	}
	if err := executor.Sudo(ctx, e.Runner,
		"mkfs.vfat", "-F", strconv.Itoa(opts.Profile.FATSize), "-n", opts.BootLabel, dev); err != nil {
		return failure.New(failure.KindMediaSetupFailed, dev, err)
	}
	return nil
}

// formatRoot returns the UUID of the new filesystem.
func (e *Engine) formatRoot(ctx context.Context, dev, rootUUID string, opts Options) (string, error) {
	if err := media.EnsureUnmounted(ctx, e.Runner, dev); err != nil {
		return "", err
	}
	args := []string{"mkfs." + opts.RootFSType}
	setsUUID := opts.RootFSType != "btrfs"
	if setsUUID {
		args = append(args, "-U", rootUUID)
	}
	args = append(args, "-L", opts.RootLabel, dev)
	if err := executor.Sudo(ctx, e.Runner, args...); err != nil {
		return "", failure.New(failure.KindMediaSetupFailed, dev, err)
	}
	if setsUUID {
		return rootUUID, nil
	}
	probed, err := e.probe(ctx, dev)
	if err != nil {
		return "", failure.New(failure.KindMediaSetupFailed, dev, err)
	}
	return probed, nil
}

func (e *Engine) probe(ctx context.Context, dev string) (string, error) {
	probe := e.ProbeUUID
	if probe == nil {
		probe = ProbeUUID
	}
	return probe(ctx, e.Runner, dev)
}
