package media

import (
	"context"
	"strconv"

	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
)

const sectorBytes = 512

// WriteRaw copies src onto dest starting at sector seek, without truncating
// dest. skip and count are in 512 byte sectors; a zero count copies all of
// src.
func WriteRaw(ctx context.Context, r executor.Runner, src, dest string, seek, skip, count int) error {
	args := []string{
		"dd",
		"if=" + src,
		"of=" + dest,
		"bs=" + strconv.Itoa(sectorBytes),
		"seek=" + strconv.Itoa(seek),
	}
	if skip > 0 {
		args = append(args, "skip="+strconv.Itoa(skip))
	}
	if count > 0 {
		args = append(args, "count="+strconv.Itoa(count))
	}
	args = append(args, "conv=notrunc")
	if err := executor.Sudo(ctx, r, args...); err != nil {
		return failure.New(failure.KindRawWriteFailed, src, err)
	}
	return nil
}
