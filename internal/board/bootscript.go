package board

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// DefaultBootCommand loads uImage and uInitrd from the boot partition.
const DefaultBootCommand = "fatload mmc {{.MMC}} {{.KernelAddr}} uImage; fatload mmc {{.MMC}} {{.InitrdAddr}} uInitrd; bootm {{.KernelAddr}} {{.InitrdAddr}}"

// Every slot renders as exactly one token. An empty slot leaves a double
// space, which is part of the expected output.
var bootArgsTmpl = template.Must(template.New("bootargs").Parse(
	"{{.SerialOptions}} {{.Lowmem}} {{.Root}} {{.ExtraBootArgs}}"))

// HexAddr formats a load address the way U-Boot commands expect it.
func HexAddr(addr uint32) string { return fmt.Sprintf("0x%08x", addr) }

type commandData struct {
	MMC        string
	KernelAddr string
	InitrdAddr string
}

func (p *Profile) commandData() commandData {
	return commandData{
		MMC:        p.MMCOption,
		KernelAddr: HexAddr(p.KernelAddr),
		InitrdAddr: HexAddr(p.InitrdAddr),
	}
}

func (p *Profile) render(name, text string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("board %s: %s template: %v", p.Name, name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p.commandData()); err != nil {
		return "", fmt.Errorf("board %s: %s template: %v", p.Name, name, err)
	}
	return buf.String(), nil
}

// BootCmd renders the board's bootcmd.
func (p *Profile) BootCmd() (string, error) {
	text := p.BootCommand
	if text == "" {
		text = DefaultBootCommand
	}
	return p.render("bootcmd", text)
}

// EnvEntries renders the values of p.Env.
func (p *Profile) EnvEntries() ([]EnvVar, error) {
	entries := make([]EnvVar, 0, len(p.Env))
	for _, e := range p.Env {
		v, err := p.render(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, EnvVar{Key: e.Key, Value: v})
	}
	return entries, nil
}

// BootOptions are the per-build inputs of the boot script.
type BootOptions struct {
	// Console is the resolved serial console (see ResolveConsole). Empty
	// means Profile.SerialConsole.
	Console string
	// Consoles are additional console= arguments supplied by the caller,
	// e.g. "ttyO2,115200n8".
	Consoles []string
	Live     bool
	Lowmem   bool
	RootUUID string
}

// BootEnv is the pair of U-Boot variables a boot script sets.
type BootEnv struct {
	BootCmd  string
	BootArgs string
}

func withConsole(format, console string) string {
	if strings.Contains(format, "%s") {
		return fmt.Sprintf(format, console)
	}
	return format
}

// SerialOptions returns the console part of the kernel command line. Caller
// consoles which the board's extra serial options already name are not
// repeated.
func (p *Profile) SerialOptions(opts BootOptions) string {
	console := opts.Console
	if console == "" {
		console = p.SerialConsole
	}
	extra := withConsole(p.ExtraSerialOptions, console)
	present := make(map[string]bool)
	for _, tok := range strings.Fields(extra) {
		present[tok] = true
	}
	var b strings.Builder
	for _, c := range opts.Consoles {
		tok := "console=" + c
		if present[tok] {
			continue
		}
		b.WriteString(" " + tok)
	}
	if opts.Live {
		b.WriteString(" serialtty=" + console)
		if p.LiveSerialOptions != "" {
			b.WriteString(" " + withConsole(p.LiveSerialOptions, console))
		}
	}
	if extra != "" {
		b.WriteString(" " + extra)
	}
	return b.String()
}

// BootEnv computes bootcmd and bootargs for one build.
func (p *Profile) BootEnv(opts BootOptions) (BootEnv, error) {
	bootcmd, err := p.BootCmd()
	if err != nil {
		return BootEnv{}, err
	}
	root := "boot=casper"
	if !opts.Live {
		if opts.RootUUID == "" {
			return BootEnv{}, fmt.Errorf("BUG: no root filesystem UUID for a non-live image")
		}
		root = "root=UUID=" + opts.RootUUID
	}
	lowmem := ""
	if opts.Live && opts.Lowmem {
		lowmem = "only-ubiquity"
	}
	extra := "rootwait ro"
	if p.ExtraBootArgsOptions != "" {
		extra += " " + p.ExtraBootArgsOptions
	}
	var buf bytes.Buffer
	if err := bootArgsTmpl.Execute(&buf, struct {
		SerialOptions string
		Lowmem        string
		Root          string
		ExtraBootArgs string
	}{
		SerialOptions: p.SerialOptions(opts),
		Lowmem:        lowmem,
		Root:          root,
		ExtraBootArgs: extra,
	}); err != nil {
		return BootEnv{}, err
	}
	return BootEnv{BootCmd: bootcmd, BootArgs: buf.String()}, nil
}

// RenderScript renders the U-Boot script setting env and booting.
func RenderScript(env BootEnv) string {
	return fmt.Sprintf("setenv bootcmd '%s'\nsetenv bootargs '%s'\nboot", env.BootCmd, env.BootArgs)
}
