// Package bootimg populates the boot partition of a board and writes the raw
// regions of the media, following the step list of the board's profile.
package bootimg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linaro/imagetools/internal/board"
	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/linaro/imagetools/internal/media"
	"github.com/linaro/imagetools/internal/partition"
	"github.com/sirupsen/logrus"
)

// Assembler runs the boot-file assembly steps of one board.
type Assembler struct {
	Runner  executor.Runner
	Stack   *cleanup.Stack
	Profile *board.Profile
	// StagingTree is the unpacked root filesystem, including installed
	// hardware packs.
	StagingTree string
	// BootDir is where the boot partition is mounted.
	BootDir string
	Media   *media.Media
	// ScratchDir holds temporary files (boot script source, env block).
	ScratchDir string
	Options    board.BootOptions

	// outputs of earlier steps
	uImage, uInitrd, envBlock, script string
}

type stepFunc func(a *Assembler, ctx context.Context, s board.Step) error

var dispatch = map[board.StepKind]stepFunc{
	board.FirstStage: (*Assembler).firstStage,
	board.UImage:     (*Assembler).makeUImage,
	board.UInitrd:    (*Assembler).makeUInitrd,
	board.BootScript: (*Assembler).makeBootScript,
	board.BootIni:    (*Assembler).bootIni,
	board.EnvBlock:   (*Assembler).makeEnvBlock,
	board.RawWrite:   (*Assembler).rawWrite,
}

// Run executes all steps in declaration order.
func (a *Assembler) Run(ctx context.Context) error {
	if a.Options.Console == "" {
		console, err := board.ResolveConsole(a.Profile, a.StagingTree)
		if err != nil {
			return err
		}
		a.Options.Console = console
	}
	for _, s := range a.Profile.Steps {
		fn, ok := dispatch[s.Kind]
		if !ok {
			return fmt.Errorf("BUG: no implementation for step %v", s.Kind)
		}
		logrus.Debugf("%s: step %v", a.Profile.Name, s.Kind)
		if err := fn(a, ctx, s); err != nil {
			return fmt.Errorf("%s: %v step: %w", a.Profile.Name, s.Kind, err)
		}
	}
	return nil
}

func (a *Assembler) firstStage(ctx context.Context, s board.Step) error {
	src, err := board.FindOne(a.StagingTree, s.Glob)
	if err != nil {
		return err
	}
	if err := executor.Sudo(ctx, a.Runner, "cp", "-v", src, filepath.Join(a.BootDir, s.Dest)); err != nil {
		return err
	}
	// Some ROM loaders require the first-stage loader to be the first file
	// in the FAT, so it must hit the disk before anything else is written.
	return executor.Run(ctx, a.Runner, "sync")
}

// mkimage wraps in into a U-Boot image at out.
func (a *Assembler) mkimage(ctx context.Context, typ, addr, name, in, out string) error {
	return executor.Sudo(ctx, a.Runner,
		"mkimage",
		"-A", "arm",
		"-O", "linux",
		"-T", typ,
		"-C", "none",
		"-a", addr,
		"-e", addr,
		"-n", name,
		"-d", in,
		out)
}

func (a *Assembler) makeUImage(ctx context.Context, s board.Step) error {
	kernel, err := board.FindOne(a.StagingTree, a.Profile.KernelGlob())
	if err != nil {
		return err
	}
	out := filepath.Join(a.BootDir, "uImage")
	if err := a.mkimage(ctx, "kernel", board.HexAddr(a.Profile.LoadAddr), "Linux", kernel, out); err != nil {
		return err
	}
	a.uImage = out
	return nil
}

func (a *Assembler) makeUInitrd(ctx context.Context, s board.Step) error {
	initrd, err := board.FindOne(a.StagingTree, a.Profile.InitrdGlob())
	if err != nil {
		return err
	}
	out := filepath.Join(a.BootDir, "uInitrd")
	if err := a.mkimage(ctx, "ramdisk", "0", "initramfs", initrd, out); err != nil {
		return err
	}
	a.uInitrd = out
	return nil
}

func (a *Assembler) scratchFile(pattern string, b []byte) (string, error) {
	f, err := os.CreateTemp(a.ScratchDir, pattern)
	if err != nil {
		return "", err
	}
	a.Stack.Push("remove "+f.Name(), func() error {
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	if _, err := f.Write(b); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func (a *Assembler) makeBootScript(ctx context.Context, s board.Step) error {
	env, err := a.Profile.BootEnv(a.Options)
	if err != nil {
		return err
	}
	logrus.Infof("bootargs: %s", env.BootArgs)
	src, err := a.scratchFile("boot-script-", []byte(board.RenderScript(env)))
	if err != nil {
		return err
	}
	out := filepath.Join(a.BootDir, a.Profile.BootScript)
	if err := a.mkimage(ctx, "script", "0", "boot script", src, out); err != nil {
		return err
	}
	a.script = out
	return nil
}

func (a *Assembler) bootIni(ctx context.Context, s board.Step) error {
	if a.script == "" {
		return fmt.Errorf("BUG: boot.ini requested before the boot script was built")
	}
	return executor.Sudo(ctx, a.Runner, "cp", "-v", a.script, filepath.Join(a.BootDir, "boot.ini"))
}

func (a *Assembler) makeEnvBlock(ctx context.Context, s board.Step) error {
	entries, err := a.Profile.EnvEntries()
	if err != nil {
		return err
	}
	block, err := MakeEnvBlock(entries, a.Profile.EnvSectors*partition.SectorBytes)
	if err != nil {
		return err
	}
	fn, err := a.scratchFile("env-", block)
	if err != nil {
		return err
	}
	a.envBlock = fn
	return nil
}

func (a *Assembler) rawSource(s board.Step) (string, error) {
	var src string
	switch s.Source {
	case board.SourceStaged:
		return board.FindOne(a.StagingTree, s.Glob)
	case board.SourceUImage:
		src = a.uImage
	case board.SourceUInitrd:
		src = a.uInitrd
	case board.SourceEnvBlock:
		src = a.envBlock
	}
	if src == "" {
		return "", fmt.Errorf("BUG: raw write of %v before it was built", s.Source)
	}
	return src, nil
}

func (a *Assembler) rawWrite(ctx context.Context, s board.Step) error {
	src, err := a.rawSource(s)
	if err != nil {
		return err
	}
	if s.Max > 0 {
		st, err := os.Stat(src)
		if err != nil {
			return failure.New(failure.KindRawWriteFailed, src, err)
		}
		sectors := (st.Size() + partition.SectorBytes - 1) / partition.SectorBytes
		if s.Count > 0 {
			sectors = int64(s.Count)
		}
		if sectors > int64(s.Max) {
			return failure.Errorf(failure.KindRawWriteFailed, src,
				"%d sectors do not fit into the %d sector slot at sector %d", sectors, s.Max, s.Seek)
		}
	}
	return media.WriteRaw(ctx, a.Runner, src, a.Media.Path, s.Seek, s.Skip, s.Count)
}
