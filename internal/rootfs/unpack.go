// Package rootfs prepares the staging tree (the unpacked root filesystem with
// hardware packs installed) and moves it onto the root region.
package rootfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linaro/imagetools/internal/executor"
)

// Unpack extracts tarball into dir as root and returns the staging tree. Linaro
// rootfs tarballs carry a single binary/ directory; other tarballs are used
// as-is.
func Unpack(ctx context.Context, r executor.Runner, tarball, dir string) (string, error) {
	if err := executor.Sudo(ctx, r, "tar", "--numeric-owner", "-C", dir, "-xf", tarball); err != nil {
		return "", fmt.Errorf("unpacking %s: %w", tarball, err)
	}
	binary := filepath.Join(dir, "binary")
	if st, err := os.Stat(binary); err == nil && st.IsDir() {
		return binary, nil
	}
	return dir, nil
}
