package lmc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/linaro/imagetools/internal/board"
	"github.com/linaro/imagetools/internal/config"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/imagebuild"
	"github.com/linaro/imagetools/internal/media"
	"github.com/linaro/imagetools/internal/rootfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type imageImplConfig struct {
	board     string
	mmc       string
	imageFile string
	imageSize string

	binary          string
	hwpacks         []string
	hwpackInstaller string

	rootfs    string
	bootLabel string
	rootLabel string
	consoles  []string
	live      bool
	lowmem    bool
	swapMiB   int

	noPart   bool
	noBootFS bool
	noRootFS bool

	configFile string
	sudo       string
	yes        bool
}

func imageCmd() *cobra.Command {
	cmd, _ := newImageCmd()
	return cmd
}

func newImageCmd() (*cobra.Command, *imageImplConfig) {
	impl := &imageImplConfig{}
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Write a root filesystem and hardware packs to an SD card or image file",
		Long: `Write a root filesystem and hardware packs to an SD card or image file.

The target is partitioned for the board, the boot partition receives the
first-stage loaders, kernel, initrd and boot script, and the root partition
receives the root filesystem.

Examples:
  # Create a 2 GB beagle image file:
  % lmc image --dev beagle --image-file beagle.img --binary linaro-natty-nano.tar.gz \
      --hwpack hwpack_linaro-omap3_20110302_armel_supported.tar.gz

  # Overwrite the SD card sdx:
  % lmc image --dev panda --mmc /dev/sdx --binary linaro-natty-nano.tar.gz \
      --hwpack hwpack_linaro-panda_20110302_armel_supported.tar.gz
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), cmd.Flags(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&impl.board, "dev", "", "board to build for (see lmc boards)")
	f.StringVar(&impl.mmc, "mmc", "", "block device to overwrite (e.g. /dev/sdx)")
	f.StringVar(&impl.imageFile, "image-file", "", "image file to create (e.g. /tmp/beagle.img)")
	f.StringVar(&impl.imageSize, "image-size", "2G", "size of the image file, with K, M or G suffix")
	f.StringVar(&impl.binary, "binary", "", "root filesystem tarball")
	f.StringArrayVar(&impl.hwpacks, "hwpack", nil, "hardware pack to install (repeatable)")
	f.StringVar(&impl.hwpackInstaller, "hwpack-installer", "", "path of "+rootfs.InstallerName+" (default: looked up in $PATH)")
	f.StringVar(&impl.rootfs, "rootfs", "ext4", "root filesystem type (one of ext2, ext3, ext4, btrfs)")
	f.StringVar(&impl.bootLabel, "boot-label", "boot", "label of the boot filesystem")
	f.StringVar(&impl.rootLabel, "rootfs-label", "rootfs", "label of the root filesystem")
	f.StringArrayVar(&impl.consoles, "console", nil, "additional kernel console, e.g. ttyO2,115200n8 (repeatable)")
	f.BoolVar(&impl.live, "live", false, "create a live (casper) image")
	f.BoolVar(&impl.lowmem, "lowmem", false, "pass only-ubiquity to the kernel, for boards with little memory")
	f.IntVar(&impl.swapMiB, "swap-file", 0, "create a swap file of this many MiB on the root filesystem")
	f.BoolVar(&impl.noPart, "no-part", false, "keep the existing partition table")
	f.BoolVar(&impl.noBootFS, "no-bootfs", false, "do not create or populate the boot filesystem")
	f.BoolVar(&impl.noRootFS, "no-rootfs", false, "do not create or populate the root filesystem")
	f.StringVar(&impl.configFile, "config", "", "read defaults for these flags from a JSON file")
	f.StringVar(&impl.sudo, "sudo", "", "Whether to elevate privileges using sudo when required (one of auto, always, never, default auto)")
	f.BoolVarP(&impl.yes, "yes", "y", false, "do not ask for confirmation before overwriting --mmc")
	return cmd, impl
}

// applyConfig fills in every flag which was not given on the command line
// from cfg.
func (r *imageImplConfig) applyConfig(cfg *config.Struct, flags *pflag.FlagSet) {
	str := func(name string, dst *string, v string) {
		if !flags.Changed(name) && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string, v []string) {
		if !flags.Changed(name) && len(v) > 0 {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool, v bool) {
		if !flags.Changed(name) && v {
			*dst = v
		}
	}
	str("dev", &r.board, cfg.Board)
	str("mmc", &r.mmc, cfg.MMC)
	str("image-file", &r.imageFile, cfg.ImageFile)
	str("image-size", &r.imageSize, cfg.ImageSize)
	str("binary", &r.binary, cfg.Binary)
	list("hwpack", &r.hwpacks, cfg.HWPacks)
	str("hwpack-installer", &r.hwpackInstaller, cfg.HWPackInstaller)
	str("rootfs", &r.rootfs, cfg.RootFSType)
	str("boot-label", &r.bootLabel, cfg.BootLabel)
	str("rootfs-label", &r.rootLabel, cfg.RootLabel)
	list("console", &r.consoles, cfg.Consoles)
	boolean("live", &r.live, cfg.Live)
	boolean("lowmem", &r.lowmem, cfg.Lowmem)
	if !flags.Changed("swap-file") && cfg.SwapMiB > 0 {
		r.swapMiB = cfg.SwapMiB
	}
	boolean("no-part", &r.noPart, cfg.NoPart)
	boolean("no-bootfs", &r.noBootFS, cfg.NoBootFS)
	boolean("no-rootfs", &r.noRootFS, cfg.NoRootFS)
	str("sudo", &r.sudo, cfg.Sudo)
}

func (r *imageImplConfig) validate() error {
	if r.board == "" {
		return fmt.Errorf("--dev is required (see lmc boards)")
	}
	if (r.mmc == "") == (r.imageFile == "") {
		return fmt.Errorf("exactly one of --mmc and --image-file must be specified")
	}
	if r.binary == "" && (!r.noBootFS || !r.noRootFS) {
		return fmt.Errorf("--binary is required")
	}
	if r.swapMiB < 0 {
		return fmt.Errorf("--swap-file must not be negative")
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, dev string) bool {
	fmt.Fprintf(out, "I see...\n\nAre you 100%% sure, on selecting [%s] (y/n)? ", dev)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (r *imageImplConfig) job() (*imagebuild.Job, error) {
	policy, err := executor.ParseSudoPolicy(r.sudo)
	if err != nil {
		return nil, err
	}
	b, err := board.Lookup(r.board)
	if err != nil {
		return nil, err
	}
	target := r.imageFile
	if r.mmc != "" {
		target = r.mmc
	}
	m, err := media.Open(target)
	if err != nil {
		return nil, err
	}
	if r.mmc != "" && !m.IsBlock() {
		return nil, failure.Errorf(failure.KindMediaSetupFailed, r.mmc, "not a block device")
	}

	j := imagebuild.NewJob(&executor.Host{Policy: policy}, b, m)
	j.RootfsTarball = r.binary
	j.ImageSize = r.imageSize
	j.BootLabel = r.bootLabel
	j.RootLabel = r.rootLabel
	j.RootFSType = r.rootfs
	j.Consoles = r.consoles
	j.Live = r.live
	j.Lowmem = r.lowmem
	j.SwapMiB = r.swapMiB
	j.CreatePartitions = !r.noPart
	j.FormatBoot = !r.noBootFS
	j.FormatRoot = !r.noRootFS

	for _, hw := range r.hwpacks {
		abs, err := filepath.Abs(hw)
		if err != nil {
			return nil, err
		}
		j.HWPacks = append(j.HWPacks, abs)
	}
	if len(j.HWPacks) > 0 {
		installer := r.hwpackInstaller
		if installer == "" {
			if installer, err = exec.LookPath(rootfs.InstallerName); err != nil {
				return nil, fmt.Errorf("%v (use --hwpack-installer)", err)
			}
		}
		j.HWPackInstaller = installer
	}
	return j, nil
}

func (r *imageImplConfig) run(ctx context.Context, flags *pflag.FlagSet, stdin io.Reader, stdout io.Writer) error {
	if r.configFile != "" {
		cfg, err := config.ReadFromFile(r.configFile)
		if err != nil {
			return err
		}
		r.applyConfig(cfg, flags)
	}
	if err := r.validate(); err != nil {
		return err
	}
	j, err := r.job()
	if err != nil {
		return err
	}
	if r.mmc != "" && !r.yes && !confirm(stdin, stdout, r.mmc) {
		return fmt.Errorf("not overwriting %s", r.mmc)
	}
	return j.Run(ctx)
}
