//go:build !linux

package media

import "fmt"

func deviceSize(fd uintptr) (uint64, error) {
	return 0, fmt.Errorf("BLKGETSIZE64 not implemented on this platform")
}

func rereadPartitionTable(path string) {}
