// Package partition plans MS-DOS partition tables in the classic CHS
// geometry (255 heads, 63 sectors per track) expected by the first-stage
// loaders of ARM development boards.
package partition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	Heads       = 255
	Sectors     = 63
	SectorBytes = 512

	// CylinderBytes is the size of one cylinder: 8225280 bytes.
	CylinderBytes = Heads * Sectors * SectorBytes

	// EraseBlockBytes is the alignment of image files. SD cards commonly
	// have 256 KiB erase blocks.
	EraseBlockBytes = 256 * 1024
)

// ParseImageSize parses sizes such as "2G", "512M", "100K" or "1048576".
func ParseImageSize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty image size")
	}
	mult := int64(1)
	switch unicode.ToUpper(rune(s[len(s)-1])) {
	case 'K':
		mult = 1024
	case 'M':
		mult = 1024 * 1024
	case 'G':
		mult = 1024 * 1024 * 1024
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid image size %q (examples: 2G, 512M, 100K)", orig)
	}
	return n * mult, nil
}

// AlignImageSize rounds size up to the next erase block boundary.
func AlignImageSize(size int64) int64 {
	if rem := size % EraseBlockBytes; rem != 0 {
		size += EraseBlockBytes - rem
	}
	return size
}

// Cylinders returns the number of whole cylinders which fit into size bytes.
func Cylinders(size int64) int {
	return int(size / CylinderBytes)
}

type Kind int

const (
	Raw Kind = iota
	FAT16
	FAT32
	Linux
)

var kindNames = []string{"raw", "fat16", "fat32", "linux"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MBRType returns the partition type byte written to the MBR.
func (k Kind) MBRType() byte {
	switch k {
	case Raw:
		return 0xDA // non-fs data
	case FAT16:
		return 0x0E // FAT16, LBA
	case FAT32:
		return 0x0C // FAT32, LBA
	}
	return 0x83
}

// FAT returns the FAT kind of the given bit size (16 or 32).
func FAT(bits int) Kind {
	if bits == 16 {
		return FAT16
	}
	return FAT32
}

// Segment is one partition, measured in cylinders.
type Segment struct {
	Kind     Kind
	Start    int
	Length   int
	Bootable bool
}

func (s Segment) End() int { return s.Start + s.Length }

// Plan is an ordered, non-overlapping list of segments starting at cylinder 0.
type Plan struct {
	Segments       []Segment
	TotalCylinders int
}

// NewPlan lays out template back to back, starting at cylinder 0. Start
// values in template are ignored. A zero Length on the last segment means
// "the rest of the disk".
func NewPlan(template []Segment, totalCylinders int) (*Plan, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("empty partition template")
	}
	if len(template) > 4 {
		return nil, fmt.Errorf("%d partitions requested, only 4 primary partitions fit into an MBR", len(template))
	}
	p := &Plan{TotalCylinders: totalCylinders}
	next := 0
	for i, seg := range template {
		seg.Start = next
		if seg.Length == 0 {
			if i != len(template)-1 {
				return nil, fmt.Errorf("segment %d: only the last segment may extend to the end of the disk", i)
			}
			seg.Length = totalCylinders - next
		}
		next = seg.End()
		p.Segments = append(p.Segments, seg)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the plan invariants.
func (p *Plan) Validate() error {
	bootable := 0
	next := 0
	for i, seg := range p.Segments {
		if seg.Length <= 0 {
			return fmt.Errorf("segment %d (%v): length %d cylinders, disk too small", i, seg.Kind, seg.Length)
		}
		if seg.Start != next {
			return fmt.Errorf("segment %d (%v) starts at cylinder %d, want %d", i, seg.Kind, seg.Start, next)
		}
		next = seg.End()
		if seg.Bootable {
			bootable++
		}
	}
	if next > p.TotalCylinders {
		return fmt.Errorf("partitions need %d cylinders, disk has %d", next, p.TotalCylinders)
	}
	if bootable > 1 {
		return fmt.Errorf("%d bootable segments, at most one allowed", bootable)
	}
	return nil
}

// BootIndex returns the 0-based index of the bootable segment, or -1.
func (p *Plan) BootIndex() int {
	for i, seg := range p.Segments {
		if seg.Bootable {
			return i
		}
	}
	return -1
}

// SfdiskScript renders p in the sfdisk input grammar, one
// "start,length,type[,*]" line per segment, in cylinder units. The last
// segment leaves its length empty so that sfdisk extends it to the end of the
// disk.
func (p *Plan) SfdiskScript() string {
	var b strings.Builder
	for i, seg := range p.Segments {
		length := strconv.Itoa(seg.Length)
		if i == len(p.Segments)-1 {
			length = ""
		}
		fmt.Fprintf(&b, "%d,%s,0x%02X", seg.Start, length, seg.Kind.MBRType())
		if seg.Bootable {
			b.WriteString(",*")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SfdiskArgs returns the sfdisk invocation applying a script to path.
func SfdiskArgs(path string, cylinders int) []string {
	return []string{
		"sfdisk", "--force", "-D", "-uC",
		"-H", strconv.Itoa(Heads),
		"-S", strconv.Itoa(Sectors),
		"-C", strconv.Itoa(cylinders),
		path,
	}
}
