package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultUserAgent is sent when no User-Agent was configured.
const DefaultUserAgent = "podcast-downloader/1.0"

// Client wraps HTTP operations with podcast-specific configuration.
//
// Client provides:
//   - Configured User-Agent header
//   - Timeout handling
//   - Resumable file download with progress tracking (see Fetch)
//   - File size retrieval via HEAD requests
//
// Example usage:
//
//	client := NewClient(WithTimeout(30 * time.Second))
//
//	// Fetch small content such as cover art
//	data, err := client.DownloadBytes(ctx, coverURL)
//
//	// Probe the size of an enclosure
//	size, err := client.GetFileSize(ctx, mediaURL)
type Client struct {
	httpClient *http.Client

	// fetchClient shares the transport of httpClient but never follows
	// redirects on its own; Fetch walks them manually.
	fetchClient *http.Client

	userAgent string
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the overall timeout of Get, GetFileSize and
// DownloadBytes. For Fetch it only limits connecting and waiting for the
// response headers. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new HTTP client.
//
// The client is configured with:
//   - 60 second timeout
//   - DefaultUserAgent as User-Agent header
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		userAgent: DefaultUserAgent,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// A transfer may legitimately run for hours, so the fetch client has no
	// overall deadline. The timeout bounds connecting and waiting for the
	// response headers instead.
	c.fetchClient = &http.Client{
		Transport: headerTimeout(c.httpClient.Transport, c.httpClient.Timeout),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c
}

// headerTimeout returns rt with d applied to dialing, the TLS handshake and
// the wait for response headers. Round trippers other than *http.Transport
// are returned unchanged.
func headerTimeout(rt http.RoundTripper, d time.Duration) http.RoundTripper {
	if d <= 0 {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	base, ok := rt.(*http.Transport)
	if !ok {
		return rt
	}

	t := base.Clone()
	t.DialContext = (&net.Dialer{Timeout: d, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = d
	t.ResponseHeaderTimeout = d
	return t
}

// Get performs a GET request and returns the response body as bytes.
//
// The request includes the configured User-Agent header.
//
// Returns an error if:
//   - The request fails
//   - The response status is not 200 OK (as *HTTPError)
//   - Reading the body fails
//
// Example:
//
//	data, err := client.Get(ctx, "https://example.com/cover.jpg")
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp, url)
	}

	return io.ReadAll(resp.Body)
}

// GetFileSize returns the size of a file at the given URL via HEAD request.
//
// This is useful for:
//   - Filling in unknown episode sizes before a batch starts
//   - Checking if a local file matches the expected size
//
// Returns an error if:
//   - The request fails
//   - The response status is not 2xx
//   - The server doesn't return a Content-Length header
//
// Example:
//
//	size, err := client.GetFileSize(ctx, mediaURL)
//	fmt.Printf("Episode is %d bytes\n", size)
func (c *Client) GetFileSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, escapeURL(url), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, newHTTPError(resp, url)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no Content-Length header for %s", url)
	}

	return resp.ContentLength, nil
}

// DownloadBytes downloads a file and returns the bytes in memory.
//
// Use this for small files like cover art images. For episode media,
// use Fetch to stream directly to disk.
func (c *Client) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	return c.Get(ctx, url)
}

func newHTTPError(resp *http.Response, url string) *HTTPError {
	msg := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{URL: url, Code: resp.StatusCode, Message: msg}
}
