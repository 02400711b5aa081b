package http

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by Fetch when the progress callback asked to stop.
var ErrCancelled = errors.New("download cancelled")

// ErrAuthentication is returned after the server rejected the channel
// credentials too many times.
var ErrAuthentication = errors.New("wrong username/password")

// HTTPError is returned for responses that are neither successful nor redirects.
type HTTPError struct {
	URL     string
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// ContentTooShortError is returned when the body ended before the advertised size.
type ContentTooShortError struct {
	Expected int64
	Actual   int64
}

func (e *ContentTooShortError) Error() string {
	return fmt.Sprintf("retrieval incomplete: got only %d out of %d bytes", e.Actual, e.Expected)
}

// IOError wraps a filesystem failure on the download destination.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
