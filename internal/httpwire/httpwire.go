// Package httpwire holds the HTTP content details shared by the bindings:
// Range headers in both directions and the headers of a content response.
package httpwire

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// RangeHeader renders rng as a Range header value, or "" for no range.
func RangeHeader(rng *cmis.ByteRange) string {
	if !rng.Partial() {
		return ""
	}
	if rng.Bounded() {
		if rng.Length == 0 {
			return ""
		}
		return fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1)
	}
	return fmt.Sprintf("bytes=%d-", rng.Offset)
}

// ContentStream wraps a successful content response. The response body
// becomes the stream; the caller owns closing it.
func ContentStream(res *http.Response, rng *cmis.ByteRange) *cmis.ContentStream {
	cs := &cmis.ContentStream{
		MimeType: res.Header.Get("Content-Type"),
		Length:   cmis.UnknownLength,
		Stream:   res.Body,
	}
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil {
		cs.Filename = params["filename"]
	}
	switch res.StatusCode {
	case http.StatusPartialContent:
		cs.Range = rng
		if total, ok := TotalFromContentRange(res.Header.Get("Content-Range")); ok {
			cs.Length = total
		}
	default:
		if res.ContentLength >= 0 {
			cs.Length = res.ContentLength
		}
	}
	return cs
}

// TotalFromContentRange extracts the complete length from a
// "bytes a-b/total" header.
func TotalFromContentRange(v string) (int64, bool) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseRange reads a single "bytes=a-b" or "bytes=a-" Range header. Suffix
// and multi-range forms, and other units, yield no range.
func ParseRange(h string) (*cmis.ByteRange, error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(ranges, "-")
	if !ok || first == "" {
		return nil, nil
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	if last == "" {
		return cmis.NewByteRange(&start, nil)
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if end < start {
		return nil, fmt.Errorf("range end %d before start %d", end, start)
	}
	length := end - start + 1
	return cmis.NewByteRange(&start, &length)
}

// SetContentHeaders describes cs on hdr and returns the status to answer
// with: 206 with a Content-Range whenever a range was requested, even one
// covering the whole stream, and 200 otherwise.
func SetContentHeaders(hdr http.Header, cs *cmis.ContentStream, rng *cmis.ByteRange) int {
	hdr.Set("Content-Type", cs.EffectiveMimeType())
	if cs.Filename != "" {
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": cs.Filename}))
	}
	span := rng.Span(cs.Length)
	if span >= 0 {
		hdr.Set("Content-Length", strconv.FormatInt(span, 10))
	}
	if rng == nil {
		return http.StatusOK
	}
	if cs.Length >= 0 && span > 0 {
		hdr.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Offset, rng.Offset+span-1, cs.Length))
	}
	return http.StatusPartialContent
}
