package hwpack

import (
	"archive/tar"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	ownerID    = 1000
	ownerUser  = "user"
	ownerGroup = "group"
)

// tarball writes a gzip-compressed tar whose headers depend only on the
// entry names, their contents and mtime.
type tarball struct {
	zw    *gzip.Writer
	tw    *tar.Writer
	mtime time.Time
}

func newTarball(w io.Writer, mtime time.Time) (*tarball, error) {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	mtime = mtime.UTC().Truncate(time.Second)
	zw.ModTime = mtime
	return &tarball{zw: zw, tw: tar.NewWriter(zw), mtime: mtime}, nil
}

func (t *tarball) header(name string, mode int64, typ byte, size int64) *tar.Header {
	return &tar.Header{
		Name:     name,
		Mode:     mode,
		Typeflag: typ,
		Size:     size,
		Uid:      ownerID,
		Gid:      ownerID,
		Uname:    ownerUser,
		Gname:    ownerGroup,
		ModTime:  t.mtime,
		Format:   tar.FormatGNU,
	}
}

func (t *tarball) dir(name string) error {
	return t.tw.WriteHeader(t.header(name, 0755, tar.TypeDir, 0))
}

func (t *tarball) file(name string, b []byte) error {
	if err := t.tw.WriteHeader(t.header(name, 0644, tar.TypeReg, int64(len(b)))); err != nil {
		return err
	}
	_, err := t.tw.Write(b)
	return err
}

func (t *tarball) Close() error {
	if err := t.tw.Close(); err != nil {
		return err
	}
	return t.zw.Close()
}
