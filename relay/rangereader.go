package relay

import (
	"fmt"
	"io"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

type rangeReader struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// NewRangeReader positions src at rng.Offset and caps it at rng.Length bytes.
// Seekable sources seek; others have the leading bytes discarded. A nil rng
// returns src unchanged (wrapped in a no-op closer if needed). Closing the
// result closes src when src is an io.Closer.
func NewRangeReader(src io.Reader, rng *cmis.ByteRange) (io.ReadCloser, error) {
	closer, _ := src.(io.Closer)
	if rng == nil {
		if rc, ok := src.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(src), nil
	}

	if rng.Offset > 0 {
		if s, ok := src.(io.Seeker); ok {
			if _, err := s.Seek(rng.Offset, io.SeekStart); err != nil {
				return nil, fmt.Errorf("seek to %d: %w", rng.Offset, err)
			}
		} else if _, err := io.CopyN(io.Discard, src, rng.Offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("skip %d bytes: %w", rng.Offset, err)
		}
	}

	var r io.Reader = src
	if rng.Bounded() {
		r = io.LimitReader(src, rng.Length)
	}
	return &rangeReader{Reader: r, closer: closer}, nil
}
