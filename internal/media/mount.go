package media

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
	"github.com/prometheus/procfs"
	"github.com/siderolabs/go-retry/retry"
	"github.com/sirupsen/logrus"
)

// getMounts is replaced in tests.
var getMounts = procfs.GetMounts

// EnsureUnmounted unmounts every mount whose source is dev.
func EnsureUnmounted(ctx context.Context, r executor.Runner, dev string) error {
	mounts, err := getMounts()
	if err != nil {
		if os.IsNotExist(err) {
			return nil // platform does not have /proc/self/mountinfo, fall back to not verifying
		}
		return err
	}
	for _, m := range mounts {
		if m.Source != dev {
			continue
		}
		logrus.Infof("%s is mounted on %s, unmounting", dev, m.MountPoint)
		if err := executor.Sudo(ctx, r, "umount", m.MountPoint); err != nil {
			return failure.New(failure.KindMediaSetupFailed, dev, err)
		}
	}
	return nil
}

// Mount is a mounted filesystem.
type Mount struct {
	Device string
	Dir    string

	r    executor.Runner
	once sync.Once
	err  error
}

// MountAt mounts dev on dir as root and pushes the unmount onto st.
func MountAt(ctx context.Context, r executor.Runner, st *cleanup.Stack, dev, dir string) (*Mount, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := executor.Sudo(ctx, r, "mount", dev, dir); err != nil {
		return nil, failure.New(failure.KindMediaSetupFailed, dev, err)
	}
	m := &Mount{Device: dev, Dir: dir, r: r}
	st.Push(fmt.Sprintf("umount %s", dir), m.Unmount)
	return m, nil
}

// Unmount syncs and unmounts. Subsequent calls return the first result.
func (m *Mount) Unmount() error {
	m.once.Do(func() {
		ctx := context.Background()
		if err := executor.Run(ctx, m.r, "sync"); err != nil {
			m.err = err
			return
		}
		m.err = executor.Sudo(ctx, m.r, "umount", m.Dir)
	})
	return m.err
}

// WaitForNodes polls until all device nodes exist or timeout expires. The
// kernel creates partition nodes asynchronously after the table changes.
func WaitForNodes(ctx context.Context, timeout time.Duration, nodes ...string) error {
	return retry.Constant(timeout, retry.WithUnits(100*time.Millisecond)).RetryWithContext(ctx, func(ctx context.Context) error {
		for _, n := range nodes {
			if _, err := os.Stat(n); err != nil {
				return retry.ExpectedError(err)
			}
		}
		return nil
	})
}
