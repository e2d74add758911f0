// Package media provides a uniform view over the two kinds of target the
// image builder writes to: a real block device (an SD/MMC card reader, a USB
// disk) and a regular image file.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linaro/imagetools/internal/failure"
)

type Kind int

const (
	KindFile Kind = iota
	KindBlock
)

func (k Kind) String() string {
	if k == KindBlock {
		return "block"
	}
	return "file"
}

// Media is the target of an image build. It is immutable after Open.
type Media struct {
	Path string
	Kind Kind
}

// Open classifies path. A path that does not exist yet is treated as an image
// file which will be created.
func Open(path string) (*Media, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Media{Path: path, Kind: KindFile}, nil
		}
		return nil, failure.New(failure.KindMediaSetupFailed, path, err)
	}
	switch {
	case st.Mode()&os.ModeDevice != 0 && st.Mode()&os.ModeCharDevice == 0:
		return &Media{Path: path, Kind: KindBlock}, nil
	case st.Mode().IsRegular():
		return &Media{Path: path, Kind: KindFile}, nil
	}
	return nil, failure.Errorf(failure.KindMediaSetupFailed, path, "neither a block device nor a regular file (mode %v)", st.Mode())
}

func (m *Media) IsBlock() bool { return m.Kind == KindBlock }

func (m *Media) String() string { return fmt.Sprintf("%s (%s)", m.Path, m.Kind) }

// PartitionPath returns the device node of partition num of m, following the
// kernel naming conventions: devices whose name ends in a digit get a "p"
// separator (mmcblk0p1, loop0p1, nvme0n1p1), macOS disks an "s".
func (m *Media) PartitionPath(num int) string {
	return partitionPath(m.Path, strconv.Itoa(num))
}

func partitionPath(base, num string) string {
	name := filepath.Base(base)
	if strings.HasPrefix(name, "mmcblk") ||
		strings.HasPrefix(name, "loop") ||
		strings.HasPrefix(name, "nvme") {
		return base + "p" + num
	} else if strings.HasPrefix(base, "/dev/disk") ||
		strings.HasPrefix(base, "/dev/rdisk") {
		return base + "s" + num
	}
	return base + num
}

// Partitions returns the device nodes of the partitions of a block device
// which currently exist, in partition number order.
func (m *Media) Partitions() []string {
	var parts []string
	// Only primary partitions are ever created.
	for i := 1; i <= 4; i++ {
		p := m.PartitionPath(i)
		if _, err := os.Stat(p); err != nil {
			break
		}
		parts = append(parts, p)
	}
	return parts
}

// Size returns the size of m in bytes.
func (m *Media) Size() (int64, error) {
	if !m.IsBlock() {
		st, err := os.Stat(m.Path)
		if err != nil {
			return 0, err
		}
		return st.Size(), nil
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	size, err := deviceSize(f.Fd())
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64 %s: %v", m.Path, err)
	}
	return int64(size), nil
}

// CreateSparse creates (or truncates) the image file at m.Path with exactly
// size bytes, without allocating blocks.
func (m *Media) CreateSparse(size int64) error {
	if m.IsBlock() {
		return fmt.Errorf("BUG: CreateSparse called on block device %s", m.Path)
	}
	f, err := os.Create(m.Path)
	if err != nil {
		return failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}
	if err := f.Close(); err != nil {
		return failure.New(failure.KindMediaSetupFailed, m.Path, err)
	}
	return nil
}

// RereadPartitions makes Linux re-read the partition table of a block device.
// Failure is logged, not returned: the subsequent device node polling decides
// whether the new table is visible.
func (m *Media) RereadPartitions() {
	if !m.IsBlock() {
		return
	}
	rereadPartitionTable(m.Path)
}
