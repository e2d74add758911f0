// Binary lmc creates bootable media for ARM development boards and builds
// the hardware packs those media are assembled from.
package main

import "github.com/linaro/imagetools/internal/lmc"

func main() {
	lmc.Execute()
}
