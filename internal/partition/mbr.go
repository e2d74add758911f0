package partition

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-diskfs/partition/mbr"
)

var signature = [2]byte{0x55, 0xAA}

// WriteEmptyMBR writes a boot record without any partitions.
func WriteEmptyMBR(w io.Writer) error {
	for _, v := range []interface{}{
		[446]byte{}, // boot code
		[4 * 16]byte{},
		signature,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// Region is a byte range of an image file.
type Region struct {
	Offset int64
	Size   int64
}

// ReadRegions returns the byte ranges of the bootable partition of the image
// file at path and of the partition following it.
func ReadRegions(path string) (boot, root Region, _ error) {
	f, err := os.Open(path)
	if err != nil {
		return Region{}, Region{}, err
	}
	defer f.Close()
	table, err := mbr.Read(f, SectorBytes, SectorBytes)
	if err != nil {
		return Region{}, Region{}, fmt.Errorf("reading MBR of %s: %v", path, err)
	}
	var parts []*mbr.Partition
	for _, p := range table.Partitions {
		if p == nil || p.Type == mbr.Type(0) {
			continue
		}
		parts = append(parts, p)
	}
	for i, p := range parts {
		if !p.Bootable {
			continue
		}
		if i+1 >= len(parts) {
			return Region{}, Region{}, fmt.Errorf("%s: no partition follows the bootable partition %d", path, i+1)
		}
		next := parts[i+1]
		return region(p), region(next), nil
	}
	return Region{}, Region{}, fmt.Errorf("%s: no bootable partition found", path)
}

func region(p *mbr.Partition) Region {
	return Region{
		Offset: int64(p.Start) * SectorBytes,
		Size:   int64(p.Size) * SectorBytes,
	}
}
