package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned (wrapped) by a Transport when uri does not exist.
var ErrNotFound = errors.New("not found")

// Transport retrieves repository files.
type Transport interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FileTransport serves file: URIs and absolute paths.
type FileTransport struct{}

// LocalPath returns the file system path of a file: URI or absolute path.
func LocalPath(uri string) (string, error) {
	if strings.HasPrefix(uri, "file:") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", err
		}
		if u.Path == "" {
			return u.Opaque, nil
		}
		return u.Path, nil
	}
	if filepath.IsAbs(uri) {
		return uri, nil
	}
	return "", fmt.Errorf("%s: unsupported URI scheme", uri)
}

func (FileTransport) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, err := LocalPath(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
