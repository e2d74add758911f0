// Package download retrieves repository files over HTTP with retries.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/linaro/imagetools/internal/hwpack/fetch"
	"github.com/sirupsen/logrus"
)

// Transport serves http:// and https:// URIs and hands everything else to
// fetch.FileTransport.
type Transport struct {
	client *retryablehttp.Client
	local  fetch.FileTransport
}

// New returns a Transport making up to retries extra attempts per request.
func New(retries int) *Transport {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 10 * time.Second
	c.Logger = leveledLogger{}
	return &Transport{client: c}
}

func (t *Transport) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return t.local.Open(ctx, uri)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", uri, fetch.ErrNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: unexpected HTTP status %s", uri, resp.Status)
	}
}

// leveledLogger routes retryablehttp's messages to logrus. Requests are
// logged at debug level, retries and errors as warnings.
type leveledLogger struct{}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

func (leveledLogger) Error(msg string, kv ...interface{}) {
	logrus.WithFields(fields(kv)).Warn(msg)
}

func (leveledLogger) Info(msg string, kv ...interface{}) {
	logrus.WithFields(fields(kv)).Debug(msg)
}

func (leveledLogger) Debug(msg string, kv ...interface{}) {
	logrus.WithFields(fields(kv)).Debug(msg)
}

func (leveledLogger) Warn(msg string, kv ...interface{}) {
	logrus.WithFields(fields(kv)).Warn(msg)
}
