// Package config reads image job descriptions from JSON files. Every field
// corresponds to an lmc image flag of the same meaning; flags given on the
// command line take precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type Struct struct {
	Board     string `json:",omitempty"` // --dev
	MMC       string `json:",omitempty"` // --mmc
	ImageFile string `json:",omitempty"` // --image-file
	ImageSize string `json:",omitempty"` // --image-size

	Binary          string   `json:",omitempty"` // --binary
	HWPacks         []string `json:",omitempty"` // --hwpack
	HWPackInstaller string   `json:",omitempty"` // --hwpack-installer

	RootFSType string   `json:",omitempty"` // --rootfs
	BootLabel  string   `json:",omitempty"` // --boot-label
	RootLabel  string   `json:",omitempty"` // --rootfs-label
	Consoles   []string `json:",omitempty"` // --console
	Live       bool     `json:",omitempty"` // --live
	Lowmem     bool     `json:",omitempty"` // --lowmem
	SwapMiB    int      `json:",omitempty"` // --swap-file

	NoPart   bool `json:",omitempty"` // --no-part
	NoBootFS bool `json:",omitempty"` // --no-bootfs
	NoRootFS bool `json:",omitempty"` // --no-rootfs

	Sudo string `json:",omitempty"` // --sudo
}

func ReadFromFile(path string) (*Struct, error) {
	logrus.Debugf("reading image config from %s", path)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Struct
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return &cfg, nil
}
