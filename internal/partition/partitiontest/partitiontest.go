// Package partitiontest writes MBR fixtures the way sfdisk would lay out a
// partition.Plan, so that code reading partition tables can be tested without
// running sfdisk.
package partitiontest

import (
	"encoding/binary"
	"os"

	"github.com/linaro/imagetools/internal/partition"
)

const sectorsPerCylinder = partition.Heads * partition.Sectors

var invalidCHS = [3]byte{0xFE, 0xFF, 0xFF}

// Entry returns the start and size in sectors sfdisk assigns to seg. A
// segment starting at cylinder 0 skips the first track, which holds the MBR.
func Entry(seg partition.Segment) (start, size uint32) {
	start = uint32(seg.Start * sectorsPerCylinder)
	size = uint32(seg.Length * sectorsPerCylinder)
	if seg.Start == 0 {
		start += partition.Sectors
		size -= partition.Sectors
	}
	return start, size
}

// WriteMBR writes the MBR for plan to the first sector of the file at path.
func WriteMBR(path string, plan *partition.Plan) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	vals := []interface{}{[446]byte{}}
	for i := 0; i < 4; i++ {
		if i >= len(plan.Segments) {
			vals = append(vals, [16]byte{})
			continue
		}
		seg := plan.Segments[i]
		active := byte(0x00)
		if seg.Bootable {
			active = 0x80
		}
		start, size := Entry(seg)
		vals = append(vals, active, invalidCHS, seg.Kind.MBRType(), invalidCHS, start, size)
	}
	vals = append(vals, [2]byte{0x55, 0xAA})
	for _, v := range vals {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return f.Close()
}
