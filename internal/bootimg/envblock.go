package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/linaro/imagetools/internal/board"
)

// MakeEnvBlock returns a U-Boot environment block of exactly size bytes: a
// little-endian CRC32 of the payload, followed by the payload, which holds
// the NUL-terminated KEY=VALUE entries in order, zero-padded to size-4 bytes.
func MakeEnvBlock(entries []board.EnvVar, size int) ([]byte, error) {
	if size <= 4 {
		return nil, fmt.Errorf("environment block size %d too small", size)
	}
	var payload bytes.Buffer
	for _, e := range entries {
		payload.WriteString(e.Key + "=" + e.Value)
		payload.WriteByte(0)
	}
	if payload.Len() > size-4 {
		return nil, fmt.Errorf("environment needs %d bytes, block holds %d", payload.Len(), size-4)
	}
	payload.Write(make([]byte, size-4-payload.Len()))

	var block bytes.Buffer
	if err := binary.Write(&block, binary.LittleEndian, crc32.ChecksumIEEE(payload.Bytes())); err != nil {
		return nil, err
	}
	block.Write(payload.Bytes())
	return block.Bytes(), nil
}
