package layout

import (
	"context"
	"fmt"

	"github.com/linaro/imagetools/internal/executor"
	"github.com/siderolabs/go-blockdevice/v2/blkid"
	"github.com/sirupsen/logrus"
)

// ProbeUUID returns the filesystem UUID of dev. The in-process blkid probe
// needs read access to the device; without it, blkid(8) is run as root.
func ProbeUUID(ctx context.Context, r executor.Runner, dev string) (string, error) {
	info, err := blkid.ProbePath(dev, blkid.WithSkipLocking(true))
	if err == nil && info.UUID != nil {
		return info.UUID.String(), nil
	}
	if err != nil {
		logrus.Debugf("probing %s: %v, falling back to blkid(8)", dev, err)
	}
	uuid, err := executor.SudoOutput(ctx, r, "blkid", "-o", "value", "-s", "UUID", dev)
	if err != nil {
		return "", err
	}
	if uuid == "" {
		return "", fmt.Errorf("no filesystem UUID found on %s", dev)
	}
	return uuid, nil
}
