// Package http provides the HTTP side of the download engine.
//
// The Client in this package handles:
//   - User-Agent headers and timeout handling
//   - Resumable file downloads (Fetch) with Range requests
//   - Manual redirect handling that keeps the resume state
//   - HTTP Basic authentication with a bounded number of attempts
//   - File size retrieval via HEAD requests
//
// # Basic Usage
//
//	client := http.NewClient(http.WithUserAgent("podcast-downloader"))
//
//	result, err := client.Fetch(ctx, http.FetchRequest{
//	    URL:         mediaURL,
//	    Destination: "/podcasts/Show/Episode.mp3.partial",
//	    Resume:      true,
//	}, func(p http.Progress) bool {
//	    fmt.Printf("%d / %d bytes\n", p.Read, p.Total)
//	    return true // false aborts the transfer
//	})
//
// # Errors
//
// Fetch classifies failures so callers can produce useful messages:
//   - *HTTPError for unexpected status codes
//   - *ContentTooShortError when the body ends before Content-Length
//   - *IOError for filesystem failures on the destination
//   - ErrAuthentication after repeated 401 responses
//   - ErrCancelled when the progress callback asked to stop
//
// # Content-Range
//
// ParseContentRange and ContentRange.String convert between the
// "bytes <start>-<end>/<length>" header form and a structured value.
package http
