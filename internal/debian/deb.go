package debian

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"pault.ag/go/debian/deb"
)

// ReadControl returns the control file of the .deb read from r. name is
// only used in error messages.
func ReadControl(r io.ReaderAt, name string) (Paragraph, error) {
	d, err := deb.Load(r, name)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	if len(d.Control.Paragraph.Order) == 0 {
		return nil, fmt.Errorf("%s: empty control file", name)
	}
	return fromControl(d.Control.Paragraph), nil
}

type tarEntry struct {
	name string
	body []byte // nil for directories
}

// gzipTar renders entries as a gzip-compressed tar owned by root.
func gzipTar(mtime time.Time, entries ...tarEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	zw.ModTime = mtime
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		h := &tar.Header{
			Name:    e.name,
			ModTime: mtime,
			Uname:   "root",
			Gname:   "root",
			Format:  tar.FormatGNU,
		}
		if e.body == nil {
			h.Typeflag = tar.TypeDir
			h.Mode = 0755
		} else {
			h.Typeflag = tar.TypeReg
			h.Mode = 0644
			h.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(h); err != nil {
			return nil, err
		}
		if _, err := tw.Write(e.body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeAr writes an ar archive whose members are all owned by root with
// mode 0644.
func writeAr(w io.Writer, mtime time.Time, members ...tarEntry) error {
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return err
	}
	for _, m := range members {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: mtime,
			Mode:    0644,
			Size:    int64(len(m.body)),
		}
		if err := aw.WriteHeader(hdr); err != nil {
			return err
		}
		// A single Write per member, so the writer pads odd sizes.
		if _, err := aw.Write(m.body); err != nil {
			return fmt.Errorf("ar member %s: %v", m.name, err)
		}
	}
	return nil
}

// WriteDeb writes a binary package without payload files (such as a
// dependency-only meta package) with the given control paragraph. The output
// depends only on its arguments.
func WriteDeb(w io.Writer, control Paragraph, mtime time.Time) error {
	mtime = mtime.UTC().Truncate(time.Second)
	var ctrl bytes.Buffer
	if err := control.Encode(&ctrl); err != nil {
		return err
	}
	controlTar, err := gzipTar(mtime,
		tarEntry{name: "./"},
		tarEntry{name: "./control", body: ctrl.Bytes()})
	if err != nil {
		return err
	}
	dataTar, err := gzipTar(mtime, tarEntry{name: "./"})
	if err != nil {
		return err
	}
	return writeAr(w, mtime,
		tarEntry{name: "debian-binary", body: []byte("2.0\n")},
		tarEntry{name: "control.tar.gz", body: controlTar},
		tarEntry{name: "data.tar.gz", body: dataTar})
}
