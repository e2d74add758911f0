package media

import (
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func deviceSize(fd uintptr) (uint64, error) {
	var devsize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&devsize))); errno != 0 {
		return 0, errno
	}
	return devsize, nil
}

func rereadPartitionTable(path string) {
	// Sequence of system calls like in fdisk(8).
	unix.Sync()
	f, err := os.Open(path)
	if err != nil {
		logrus.Warnf("re-reading partition table of %s: %v", path, err)
		return
	}
	defer f.Close()
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKRRPART, 0); errno != 0 {
		logrus.Warnf("re-reading partition table of %s failed: %v. Remember to unplug and re-plug the card if the partitions do not show up.", path, errno)
	}
	unix.Sync()
}
