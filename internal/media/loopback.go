package media

import (
	"context"
	"fmt"
	"strconv"

	"github.com/linaro/imagetools/internal/cleanup"
	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
)

// BindLoopback registers a loopback device covering size bytes of the image
// file at path, starting at offset. The detach is pushed onto st only once the
// device exists.
func BindLoopback(ctx context.Context, r executor.Runner, st *cleanup.Stack, path string, offset, size int64) (string, error) {
	dev, err := executor.SudoOutput(ctx, r,
		"losetup", "-f", "--show",
		"--offset", strconv.FormatInt(offset, 10),
		"--sizelimit", strconv.FormatInt(size, 10),
		path)
	if err != nil {
		return "", failure.New(failure.KindLoopbackBindFailed, path, err)
	}
	if dev == "" {
		return "", failure.Errorf(failure.KindLoopbackBindFailed, path, "losetup did not print a device name")
	}
	st.Push(fmt.Sprintf("detach %s", dev), func() error {
		return executor.Sudo(context.Background(), r, "losetup", "-d", dev)
	})
	return dev, nil
}
