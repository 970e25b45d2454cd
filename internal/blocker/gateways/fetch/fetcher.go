// Package fetch retrieves remote block lists over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error message constants for consistent error handling
const (
	errBuildRequest = "build request for %s: %w"
	errRequest      = "fetch %s: %w"
	errStatus       = "fetch %s: unexpected status %d"
	errRead         = "read %s: %w"
	errTooLarge     = "fetch %s: body exceeds %d bytes"
)

// ErrEmptyBody is returned when a list source answers with no content.
var ErrEmptyBody = errors.New("empty response body")

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 32 << 20
	userAgent       = "trackerblock/1"
)

// Fetcher downloads one remote list.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures an HTTPFetcher.
type Options struct {
	Timeout  time.Duration // per request, including the body read
	MaxBytes int64         // bodies larger than this are rejected
	// options to inject for testing purposes
	Client *http.Client
}

// HTTPFetcher performs plain GET requests.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher, applying defaults for zero options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPFetcher{client: opts.Client, maxBytes: opts.MaxBytes}
}

// Fetch returns the full response body. Non-200 answers, empty bodies and bodies over
// the size limit are errors; nothing is returned partially.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf(errBuildRequest, url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errRequest, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errStatus, url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf(errRead, url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf(errTooLarge, url, f.maxBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrEmptyBody)
	}
	return body, nil
}
