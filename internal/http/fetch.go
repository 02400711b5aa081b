package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

const (
	// ChunkSize is the number of bytes read from the body per iteration.
	ChunkSize = 8 * 1024

	// ProgressEvery is the number of chunks between progress callbacks.
	ProgressEvery = 5

	maxRedirects    = 10
	maxAuthAttempts = 3
)

// Progress is passed to a ProgressFunc while Fetch streams the body.
type Progress struct {
	// Read is the number of bytes present in the destination, including
	// any resumed prefix.
	Read int64

	// Chunks is the number of ChunkSize blocks accounted so far. It starts
	// at resumedBytes / ChunkSize.
	Chunks int64

	ChunkSize int

	// Total is the expected final size, or -1 when the server did not
	// advertise a length.
	Total int64
}

// ProgressFunc observes a running transfer. Returning false aborts it and
// Fetch returns ErrCancelled.
type ProgressFunc func(Progress) bool

// FetchRequest describes one resumable download.
type FetchRequest struct {
	URL         string
	Destination string

	// Resume continues an existing Destination with a Range request.
	Resume bool

	// Username and Password answer 401 challenges with Basic auth.
	Username string
	Password string
}

func (r FetchRequest) hasCredentials() bool {
	return r.Username != "" || r.Password != ""
}

// FetchResult is returned by a completed Fetch.
type FetchResult struct {
	Header   http.Header
	FinalURL string

	// Written is the size of Destination after the transfer.
	Written int64

	// Resumed reports whether the server honoured the Range request.
	Resumed bool
}

// Fetch downloads req.URL into req.Destination.
//
// When req.Resume is set and the destination already holds S bytes, the
// request carries "Range: bytes=S-". If the response does not confirm that
// exact offset via Content-Range, the partial content is discarded and the
// full body is written from the start.
//
// onProgress may be nil. It is called once before the first chunk and then
// every ProgressEvery chunks.
func (c *Client) Fetch(ctx context.Context, req FetchRequest, onProgress ProgressFunc) (*FetchResult, error) {
	file, offset, err := openDestination(req.Destination, req.Resume)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	log := c.logger.With().Str("url", req.URL).Logger()

	resp, err := c.open(ctx, req, offset)
	if err != nil {
		return nil, err
	}
	defer func() { resp.Body.Close() }()

	resumed := false
	if offset > 0 {
		cr, err := ParseContentRange(resp.Header.Get("Content-Range"))
		switch {
		case err == nil && cr.Start == offset:
			resumed = true
		default:
			log.Debug().
				Int64("offset", offset).
				Str("content_range", resp.Header.Get("Content-Range")).
				Msg("Range request not honoured, restarting from zero")
			if err := file.Truncate(0); err != nil {
				return nil, &IOError{Op: "truncate", Path: req.Destination, Err: err}
			}
			offset = 0
			if resp.StatusCode == http.StatusPartialContent {
				// The body is some other slice of the file; ask again for all of it.
				full, err := c.open(ctx, req, 0)
				if err != nil {
					return nil, err
				}
				drain(resp)
				resp = full
			}
		}
	}

	total := int64(-1)
	var body io.Reader = resp.Body
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + offset
		body = io.LimitReader(resp.Body, resp.ContentLength)
	}

	read := offset
	chunks := offset / ChunkSize
	sometimes := rate.Sometimes{Every: ProgressEvery}
	report := func() bool {
		if onProgress == nil {
			return true
		}
		keep := true
		sometimes.Do(func() {
			keep = onProgress(Progress{Read: read, Chunks: chunks, ChunkSize: ChunkSize, Total: total})
		})
		return keep
	}

	if !report() {
		return nil, ErrCancelled
	}

	buf := make([]byte, ChunkSize)
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return nil, &IOError{Op: "write", Path: req.Destination, Err: err}
			}
			read += int64(n)
			chunks++
			if !report() {
				return nil, ErrCancelled
			}
		}
		if rerr == io.EOF || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read body: %w", rerr)
		}
	}

	if err := file.Close(); err != nil {
		return nil, &IOError{Op: "close", Path: req.Destination, Err: err}
	}

	if total >= 0 && read < total {
		return nil, &ContentTooShortError{Expected: total, Actual: read}
	}

	return &FetchResult{
		Header:   resp.Header,
		FinalURL: resp.Request.URL.String(),
		Written:  read,
		Resumed:  resumed,
	}, nil
}

// openDestination opens path for appending when resume is requested and
// the file exists, and for a truncated write otherwise. It returns the
// number of bytes already present.
func openDestination(path string, resume bool) (*os.File, int64, error) {
	if resume {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			if f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				return f, info.Size(), nil
			}
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, 0, &IOError{Op: "open", Path: path, Err: err}
	}
	return f, 0, nil
}

// open issues the GET request, walking redirects and answering 401
// challenges, and returns the first 2xx response.
func (c *Client) open(ctx context.Context, req FetchRequest, offset int64) (*http.Response, error) {
	target := escapeURL(req.URL)
	hops := 0
	authAttempts := 0
	authHost := ""

	for {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("User-Agent", c.userAgent)
		if offset > 0 {
			r.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
		// Credentials only go to the host that asked for them.
		if authAttempts > 0 && r.URL.Host == authHost {
			r.SetBasicAuth(req.Username, req.Password)
		}

		resp, err := c.fetchClient.Do(r)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized && req.hasCredentials():
			drain(resp)
			if r.URL.Host != authHost {
				authHost = r.URL.Host
				authAttempts = 0
			}
			authAttempts++
			if authAttempts > maxAuthAttempts {
				return nil, ErrAuthentication
			}
			c.logger.Debug().Str("url", target).Int("attempt", authAttempts).Msg("Answering auth challenge")

		case resp.StatusCode >= 300 && resp.StatusCode <= 399:
			location := resp.Header.Get("Location")
			if location == "" {
				location = resp.Header.Get("URI")
			}
			if location == "" {
				drain(resp)
				return nil, newHTTPError(resp, target)
			}
			drain(resp)
			hops++
			if hops > maxRedirects {
				return nil, fmt.Errorf("stopped after %d redirects: %w", maxRedirects, newHTTPError(resp, target))
			}
			next, err := r.URL.Parse(escapeURL(location))
			if err != nil {
				return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
			}
			c.logger.Debug().Str("from", target).Str("to", next.String()).Msg("Following redirect")
			target = next.String()

		default:
			drain(resp)
			return nil, newHTTPError(resp, target)
		}
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// illegalURLChars are bytes that must never appear unescaped in a request URL.
const illegalURLChars = " <>#\"{}|\\^[]`"

// escapeURL percent-encodes illegal characters and non-ASCII bytes,
// leaving everything else (including existing escapes) untouched.
func escapeURL(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch >= 0x80 || ch < 0x20 || strings.IndexByte(illegalURLChars, ch) >= 0 {
			fmt.Fprintf(&b, "%%%02X", ch)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
