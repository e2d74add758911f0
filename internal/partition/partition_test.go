package partition_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/linaro/imagetools/internal/partition"
	"github.com/linaro/imagetools/internal/partition/partitiontest"
)

func TestParseImageSize(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"2G", 2 << 30, false},
		{"512M", 512 << 20, false},
		{"100k", 100 << 10, false},
		{"1048576", 1048576, false},
		{"", 0, true},
		{"G", 0, true},
		{"-1M", 0, true},
		{"2T", 0, true},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := partition.ParseImageSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseImageSize(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseImageSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAlignImageSize(t *testing.T) {
	for _, size := range []int64{1, 262143, 262144, 262145, 2 << 30, 2147418112} {
		got := partition.AlignImageSize(size)
		if got%262144 != 0 || got < size || got-size >= 262144 {
			t.Errorf("AlignImageSize(%d) = %d", size, got)
		}
	}
	if got, want := partition.AlignImageSize(2<<30), int64(2147483648); got != want {
		t.Errorf("AlignImageSize(2G) = %d, want %d", got, want)
	}
	if got, want := partition.Cylinders(2147483648), 261; got != want {
		t.Errorf("Cylinders(2G) = %d, want %d", got, want)
	}
}

func TestPlan(t *testing.T) {
	for _, tt := range []struct {
		name     string
		template []partition.Segment
		script   string
	}{
		{
			name: "default",
			template: []partition.Segment{
				{Kind: partition.FAT32, Length: 9, Bootable: true},
				{Kind: partition.Linux},
			},
			script: "0,9,0x0C,*\n9,,0x83\n",
		},
		{
			name: "pre-MBR loader",
			template: []partition.Segment{
				{Kind: partition.Raw, Length: 1},
				{Kind: partition.FAT32, Length: 9, Bootable: true},
				{Kind: partition.Linux},
			},
			script: "0,1,0xDA\n1,9,0x0C,*\n10,,0x83\n",
		},
		{
			name: "fat16",
			template: []partition.Segment{
				{Kind: partition.FAT16, Length: 9, Bootable: true},
				{Kind: partition.Linux},
			},
			script: "0,9,0x0E,*\n9,,0x83\n",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p, err := partition.NewPlan(tt.template, 261)
			if err != nil {
				t.Fatal(err)
			}
			if got := p.SfdiskScript(); got != tt.script {
				t.Errorf("SfdiskScript: got %q, want %q", got, tt.script)
			}
			total := 0
			for _, seg := range p.Segments {
				total += seg.Length
			}
			if total != 261 {
				t.Errorf("segments cover %d cylinders, want 261", total)
			}
		})
	}
}

func TestPlanInvalid(t *testing.T) {
	for _, tt := range []struct {
		name     string
		template []partition.Segment
		total    int
	}{
		{"too small", []partition.Segment{{Kind: partition.FAT32, Length: 9}, {Kind: partition.Linux}}, 9},
		{"overflow", []partition.Segment{{Kind: partition.FAT32, Length: 9}, {Kind: partition.Linux, Length: 10}}, 15},
		{"two bootable", []partition.Segment{{Kind: partition.FAT32, Length: 9, Bootable: true}, {Kind: partition.Linux, Bootable: true}}, 100},
		{"rest not last", []partition.Segment{{Kind: partition.FAT32}, {Kind: partition.Linux, Length: 10}}, 100},
		{"empty", nil, 100},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := partition.NewPlan(tt.template, tt.total); err == nil {
				t.Errorf("NewPlan: got nil error")
			}
		})
	}
}

func TestSfdiskArgs(t *testing.T) {
	want := []string{"sfdisk", "--force", "-D", "-uC", "-H", "255", "-S", "63", "-C", "261", "/tmp/disk.img"}
	if diff := cmp.Diff(want, partition.SfdiskArgs("/tmp/disk.img", 261)); diff != "" {
		t.Errorf("SfdiskArgs: diff (-want +got):\n%s", diff)
	}
}

func TestWriteEmptyMBR(t *testing.T) {
	var buf bytes.Buffer
	if err := partition.WriteEmptyMBR(&buf); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if got, want := len(b), 512; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
	if b[510] != 0x55 || b[511] != 0xAA {
		t.Errorf("signature = %#x %#x, want 0x55 0xaa", b[510], b[511])
	}
	if !bytes.Equal(b[:510], make([]byte, 510)) {
		t.Errorf("boot code and partition entries not zeroed")
	}
}

func TestReadRegions(t *testing.T) {
	plan, err := partition.NewPlan([]partition.Segment{
		{Kind: partition.Raw, Length: 1},
		{Kind: partition.FAT32, Length: 9, Bootable: true},
		{Kind: partition.Linux},
	}, 261)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}
	if err := partitiontest.WriteMBR(path, plan); err != nil {
		t.Fatal(err)
	}
	boot, root, err := partition.ReadRegions(path)
	if err != nil {
		t.Fatal(err)
	}
	const cyl = partition.CylinderBytes
	if diff := cmp.Diff(partition.Region{Offset: 1 * cyl, Size: 9 * cyl}, boot); diff != "" {
		t.Errorf("boot region: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(partition.Region{Offset: 10 * cyl, Size: 251 * cyl}, root); diff != "" {
		t.Errorf("root region: diff (-want +got):\n%s", diff)
	}
}

func TestReadRegionsNoBootable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := partition.WriteEmptyMBR(f); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, _, err := partition.ReadRegions(path); err == nil {
		t.Errorf("ReadRegions: got nil error for table without bootable partition")
	}
}
