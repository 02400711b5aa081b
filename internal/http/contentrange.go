package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unknown marks an absent end or length in a ContentRange.
const Unknown = -1

// ErrInvalidContentRange is returned for values that do not follow
// "bytes <start>-<end>/<length>".
var ErrInvalidContentRange = errors.New("invalid content-range format")

// ContentRange is a parsed Content-Range response header.
//
// End is the inclusive position of the last byte, as written in the header.
// End and Length are Unknown when the header used "*".
type ContentRange struct {
	Start  int64
	End    int64
	Length int64
}

// ParseContentRange parses a Content-Range value such as
// "bytes 500-999/1234", "bytes 500-*/1234" or "bytes 0-99/*".
func ParseContentRange(value string) (ContentRange, error) {
	result := ContentRange{End: Unknown, Length: Unknown}

	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return result, ErrInvalidContentRange
	}
	rng, length, ok := strings.Cut(strings.TrimSpace(rest), "/")
	if !ok {
		return result, ErrInvalidContentRange
	}
	start, end, ok := strings.Cut(rng, "-")
	if !ok {
		return result, ErrInvalidContentRange
	}

	var err error
	if result.Start, err = parsePosition(start, false); err != nil {
		return result, err
	}
	if result.End, err = parsePosition(end, true); err != nil {
		return result, err
	}
	if result.Length, err = parsePosition(length, true); err != nil {
		return result, err
	}
	if result.End != Unknown && result.End < result.Start {
		return result, ErrInvalidContentRange
	}
	return result, nil
}

// String formats the range back into header form, using "*" for unknowns.
func (r ContentRange) String() string {
	end, length := "*", "*"
	if r.End != Unknown {
		end = strconv.FormatInt(r.End, 10)
	}
	if r.Length != Unknown {
		length = strconv.FormatInt(r.Length, 10)
	}
	return fmt.Sprintf("bytes %d-%s/%s", r.Start, end, length)
}

func parsePosition(s string, allowUnknown bool) (int64, error) {
	if allowUnknown && s == "*" {
		return Unknown, nil
	}
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, ErrInvalidContentRange
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidContentRange
	}
	return v, nil
}
