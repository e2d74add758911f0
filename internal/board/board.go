// Package board is the registry of supported development boards. A Profile
// describes everything the image builder needs to know about one board: its
// load addresses, serial console, partition layout, and the ordered list of
// steps which populate the boot partition and the raw regions of the media.
package board

import (
	"fmt"
	"sort"

	"github.com/linaro/imagetools/internal/partition"
)

// StepKind enumerates the boot-file assembly steps.
type StepKind int

const (
	// FirstStage copies a staged file (located by Glob) into the boot
	// partition as Dest.
	FirstStage StepKind = iota
	// UImage wraps the kernel into a U-Boot image named uImage.
	UImage
	// UInitrd wraps the initrd into a U-Boot image named uInitrd.
	UInitrd
	// BootScript renders the boot script and wraps it as Profile.BootScript.
	BootScript
	// BootIni mirrors the boot script as boot.ini.
	BootIni
	// EnvBlock synthesizes the U-Boot environment block of Profile.Env.
	EnvBlock
	// RawWrite writes Source to the media at sector Seek.
	RawWrite
)

var stepNames = []string{"first-stage", "uImage", "uInitrd", "boot-script", "boot.ini", "env-block", "raw-write"}

func (k StepKind) String() string {
	if int(k) < len(stepNames) {
		return stepNames[k]
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// RawSource selects the input of a RawWrite step.
type RawSource int

const (
	SourceStaged RawSource = iota // file in the staging tree, located by Glob
	SourceUImage                  // the uImage built by an earlier UImage step
	SourceUInitrd                 // the uInitrd built by an earlier UInitrd step
	SourceEnvBlock                // the block built by an earlier EnvBlock step
)

var sourceNames = []string{"staged", "uImage", "uInitrd", "env-block"}

func (s RawSource) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("RawSource(%d)", int(s))
}

// Step is one assembly step. Sector values are in 512 byte units.
type Step struct {
	Kind   StepKind
	Glob   string
	Dest   string
	Source RawSource
	Seek   int
	Skip   int
	Count  int // 0 writes the whole source
	Max    int // size of the reserved slot; 0 means unbounded
}

// EnvVar is one entry of a U-Boot environment block.
type EnvVar struct {
	Key, Value string
}

// Profile is an immutable board description. Profiles returned by Lookup are
// copies; modifying them does not affect the registry.
type Profile struct {
	Name string

	KernelAddr uint32 // address bootm loads the kernel image to
	InitrdAddr uint32
	LoadAddr   uint32 // load and entry address in the uImage header
	ScriptAddr uint32

	KernelFlavors []string

	SerialConsole string
	// LegacySerialConsole is used instead of SerialConsole for kernels
	// older than 2.6.36, when set.
	LegacySerialConsole string
	// ExtraSerialOptions and LiveSerialOptions may reference the resolved
	// serial console with %s.
	ExtraSerialOptions string
	LiveSerialOptions  string

	BootScript           string // e.g. boot.scr; empty when the board boots without a script
	FATSize              int
	MMCOption            string
	MMCPartOffset        int
	ExtraBootArgsOptions string

	// BootCommand is a text/template rendered with the load addresses and
	// MMC option; empty means DefaultBootCommand.
	BootCommand string

	Partitions []partition.Segment

	Env        []EnvVar
	EnvSectors int

	Steps []Step
}

// KernelGlob returns the staging tree pattern matching the board's kernel.
func (p *Profile) KernelGlob() string { return "boot/vmlinuz-*-" + p.flavorAlternation() }

// InitrdGlob returns the staging tree pattern matching the board's initrd.
func (p *Profile) InitrdGlob() string { return "boot/initrd.img-*-" + p.flavorAlternation() }

func (p *Profile) flavorAlternation() string {
	if len(p.KernelFlavors) == 1 {
		return p.KernelFlavors[0]
	}
	s := "{"
	for i, f := range p.KernelFlavors {
		if i > 0 {
			s += ","
		}
		s += f
	}
	return s + "}"
}

// BootPartition returns the 1-based partition number of the boot partition.
func (p *Profile) BootPartition() int { return 1 + p.MMCPartOffset }

// RootPartition returns the 1-based partition number of the root partition.
func (p *Profile) RootPartition() int { return 2 + p.MMCPartOffset }

// RawRegions returns the raw write steps of p, in declaration order.
func (p *Profile) RawRegions() []Step {
	var raw []Step
	for _, s := range p.Steps {
		if s.Kind == RawWrite {
			raw = append(raw, s)
		}
	}
	return raw
}

func (p *Profile) clone() *Profile {
	cp := *p
	cp.KernelFlavors = append([]string(nil), p.KernelFlavors...)
	cp.Partitions = append([]partition.Segment(nil), p.Partitions...)
	cp.Env = append([]EnvVar(nil), p.Env...)
	cp.Steps = append([]Step(nil), p.Steps...)
	return &cp
}

var registry = make(map[string]*Profile)

func register(p *Profile) {
	if _, ok := registry[p.Name]; ok {
		panic("duplicate board " + p.Name)
	}
	registry[p.Name] = p
}

// Lookup returns the profile of the named board.
func Lookup(name string) (*Profile, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown board %q (supported: %v)", name, Names())
	}
	return p.clone(), nil
}

// Names returns the names of all supported boards, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
