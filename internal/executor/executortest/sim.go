package executortest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linaro/imagetools/internal/executor"
)

// MkImageHeader is prepended by MkImage to the wrapped payload.
const MkImageHeader = "UIMG"

// DD simulates dd(1) with the if=, of=, bs=, seek=, skip= and count= operands
// and conv=notrunc.
func DD(c *executor.Command) ([]byte, error) {
	ops := make(map[string]string)
	for _, a := range c.Args[1:] {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("dd: unexpected operand %q", a)
		}
		ops[k] = v
	}
	num := func(k string, def int64) (int64, error) {
		v, ok := ops[k]
		if !ok {
			return def, nil
		}
		return strconv.ParseInt(v, 10, 64)
	}
	bs, err := num("bs", 512)
	if err != nil {
		return nil, err
	}
	seek, err := num("seek", 0)
	if err != nil {
		return nil, err
	}
	skip, err := num("skip", 0)
	if err != nil {
		return nil, err
	}
	count, err := num("count", -1)
	if err != nil {
		return nil, err
	}
	in, err := os.Open(ops["if"])
	if err != nil {
		return nil, err
	}
	defer in.Close()
	flags := os.O_WRONLY | os.O_CREATE
	if ops["conv"] != "notrunc" {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(ops["of"], flags, 0644)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	if _, err := in.Seek(skip*bs, io.SeekStart); err != nil {
		return nil, err
	}
	var r io.Reader = in
	if count >= 0 {
		r = io.LimitReader(in, count*bs)
	}
	if _, err := out.Seek(seek*bs, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return nil, out.Close()
}

// CP simulates cp [-v] src dst.
func CP(c *executor.Command) ([]byte, error) {
	var paths []string
	for _, a := range c.Args[1:] {
		if !strings.HasPrefix(a, "-") {
			paths = append(paths, a)
		}
	}
	if len(paths) != 2 {
		return nil, fmt.Errorf("cp: want 2 paths, got %q", paths)
	}
	b, err := os.ReadFile(paths[0])
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(paths[1], b, 0644)
}

// MkImage simulates mkimage by writing MkImageHeader, the -n name and a
// newline, followed by the -d input, to the output file.
func MkImage(c *executor.Command) ([]byte, error) {
	var in, name string
	args := c.Args[1:]
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-d":
			in = args[i+1]
		case "-n":
			name = args[i+1]
		}
	}
	out := args[len(args)-1]
	b, err := os.ReadFile(in)
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(out, append([]byte(MkImageHeader+name+"\n"), b...), 0644)
}

// MV simulates mv [-f] src... dst. When dst is an existing directory the
// sources are moved into it.
func MV(c *executor.Command) ([]byte, error) {
	var paths []string
	for _, a := range c.Args[1:] {
		if !strings.HasPrefix(a, "-") {
			paths = append(paths, a)
		}
	}
	if len(paths) < 2 {
		return nil, fmt.Errorf("mv: want at least 2 paths, got %q", paths)
	}
	dst := paths[len(paths)-1]
	srcs := paths[:len(paths)-1]
	st, err := os.Stat(dst)
	isDir := err == nil && st.IsDir()
	if len(srcs) > 1 && !isDir {
		return nil, fmt.Errorf("mv: target %s is not a directory", dst)
	}
	for _, src := range srcs {
		target := dst
		if isDir {
			target = filepath.Join(dst, filepath.Base(src))
		}
		if err := os.Rename(src, target); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// RM simulates rm [-f] [-r] path...
func RM(c *executor.Command) ([]byte, error) {
	for _, a := range c.Args[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if err := os.RemoveAll(a); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
