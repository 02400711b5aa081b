package download

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	nethttp "net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/handiism/podcast-downloader/internal/http"
	"github.com/handiism/podcast-downloader/internal/model"
)

// reconcile updates the episode MIME type and the destination filename
// from the response headers of a finished transfer.
func (t *Task) reconcile(h nethttp.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep := t.episode
	newMime := ep.MimeType
	if ct := h.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			newMime = mediaType
		}
	}

	ext := filepath.Ext(t.filename)
	if newMime != ep.MimeType || model.WrongExtension(ext) {
		t.logger.Debug().Str("old", ep.MimeType).Str("new", newMime).Msg("Correcting mime type")
		oldExt := ep.Extension()
		ep.MimeType = newMime
		if newExt := ep.Extension(); oldExt != newExt || model.WrongExtension(ext) {
			t.filename = ep.LocalFilename("")
		}
	}

	if name := dispositionFilename(h.Get("Content-Disposition")); name != "" {
		t.filename = ep.LocalFilename(name)
		if mediaType := model.MimeTypeFromFilename(t.filename); mediaType != "" {
			t.logger.Debug().Str("mime", mediaType).Msg("Using content-disposition mime type")
			ep.MimeType = mediaType
		}
	}
}

// dispositionFilename extracts the file name suggested by a
// Content-Disposition header value. RFC 2231 parameters, MIME
// encoded-words and percent-encoding are decoded; directories are
// stripped. An empty string means no usable name.
func dispositionFilename(value string) string {
	if value == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}

	if decoded, err := new(mime.WordDecoder).DecodeHeader(name); err == nil {
		name = decoded
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// errorMessage turns a download failure into the message shown to users.
func errorMessage(err error) string {
	var (
		tooShort *http.ContentTooShortError
		httpErr  *http.HTTPError
		ioErr    *http.IOError
		pathErr  *fs.PathError
	)

	switch {
	case errors.As(err, &tooShort):
		return "Missing content from server"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP Error %d: %s", httpErr.Code, httpErr.Message)
	case errors.As(err, &ioErr):
		cause := ioErr.Err
		if errors.As(cause, &pathErr) {
			cause = pathErr.Err
		}
		return fmt.Sprintf("I/O Error: %v: %s", cause, ioErr.Path)
	case errors.As(err, &pathErr):
		return fmt.Sprintf("I/O Error: %v: %s", pathErr.Err, pathErr.Path)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
