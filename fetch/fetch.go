// Package fetch downloads remote images over HTTP with bounded time,
// size and content-type checks.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTooLarge is returned when the response body exceeds the size limit.
var ErrTooLarge = errors.New("image exceeds size limit")

// ErrUnsupportedContent is returned when the response is not an image.
var ErrUnsupportedContent = errors.New("unsupported content type")

// ErrStatus indicates a non-success HTTP response.
type ErrStatus struct {
	URL        string
	StatusCode int
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Options contains configuration options for the fetch client.
type Options struct {
	// Timeout bounds the whole request, including body download.
	Timeout time.Duration

	// MaxBytes is the maximum accepted body size.
	MaxBytes int64

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the underlying client. Timeout from these
	// options is not applied to a caller-provided client.
	HTTPClient *http.Client
}

// DefaultOptions contains the default configuration options for the
// fetch client.
var DefaultOptions = Options{
	Timeout:   15 * time.Second,
	MaxBytes:  32 << 20,
	UserAgent: "simigo",
}

// Client downloads images by URL.
type Client struct {
	http      *http.Client
	maxBytes  int64
	userAgent string
}

// New creates a new fetch client.
func New(optFns ...func(o *Options)) *Client {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		http:      hc,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
	}
}

// Fetch downloads the image at url and returns its bytes.
// The response must carry an image content type (or no content type
// header at all, in which case the bytes are sniffed downstream).
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &ErrStatus{URL: url, StatusCode: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "application/octet-stream") {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, ct)
		}
	}

	// Read one byte past the limit to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnsupportedContent)
	}

	return data, nil
}
