package cmis

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMimeType is used when a content stream declares no media type.
const DefaultMimeType = "application/octet-stream"

// UnknownLength marks a content stream whose total length is not known.
const UnknownLength int64 = -1

// ByteRange selects a sub-range of a content stream. Length < 0 means "to the
// end of the stream".
type ByteRange struct {
	Offset int64
	Length int64
}

// NewByteRange validates and returns a range. A nil offset defaults to 0 and a
// nil length to "unbounded". Both nil returns nil: no range was requested.
func NewByteRange(offset, length *int64) (*ByteRange, error) {
	if offset == nil && length == nil {
		return nil, nil
	}
	r := &ByteRange{Length: -1}
	if offset != nil {
		if *offset < 0 {
			return nil, fmt.Errorf("offset must not be negative: %d", *offset)
		}
		r.Offset = *offset
	}
	if length != nil {
		if *length < 0 {
			return nil, fmt.Errorf("length must not be negative: %d", *length)
		}
		r.Length = *length
	}
	return r, nil
}

// Bounded reports whether the range caps the number of bytes.
func (r *ByteRange) Bounded() bool { return r != nil && r.Length >= 0 }

// Partial reports whether the range selects anything other than the whole
// stream.
func (r *ByteRange) Partial() bool {
	return r != nil && (r.Offset > 0 || r.Length >= 0)
}

// Span returns the number of bytes the range selects out of a stream of total
// bytes. A negative total means unknown, in which case the result is the
// range length or -1.
func (r *ByteRange) Span(total int64) int64 {
	if r == nil {
		return total
	}
	if total < 0 {
		if r.Bounded() {
			return r.Length
		}
		return UnknownLength
	}
	remaining := total - r.Offset
	if remaining < 0 {
		remaining = 0
	}
	if r.Bounded() && r.Length < remaining {
		return r.Length
	}
	return remaining
}

// ContentStream is a document's binary content together with its metadata.
//
// The producer of a ContentStream owns range interpretation: when Range is set
// the Stream already starts at Range.Offset and yields at most Range.Length
// bytes.
type ContentStream struct {
	Filename string
	MimeType string
	// Length is the total length of the content (not of the range), or
	// UnknownLength.
	Length int64
	Stream io.ReadCloser
	Range  *ByteRange
}

// EffectiveMimeType returns MimeType or DefaultMimeType when none is set.
func (cs *ContentStream) EffectiveMimeType() string {
	if cs == nil || cs.MimeType == "" {
		return DefaultMimeType
	}
	return cs.MimeType
}

// Close releases the underlying stream, if any.
func (cs *ContentStream) Close() error {
	if cs == nil || cs.Stream == nil {
		return nil
	}
	return cs.Stream.Close()
}

// ErrNoContent is returned by repositories for documents without content.
var ErrNoContent = errors.New("object has no content stream")
