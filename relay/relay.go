// Package relay moves content streams between a source and a sink with a
// fixed-size buffer so memory use stays bounded regardless of payload size.
//
// Copy is range-agnostic: it forwards whatever the source yields. Producers
// that serve a byte range wrap their source with NewRangeReader first.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// DefaultChunkSize is the buffer size used when Copy is given a non-positive
// chunk size.
const DefaultChunkSize = 64 * 1024

// Side names the end of a transfer that failed.
type Side string

const (
	SideSource Side = "source"
	SideSink   Side = "sink"
)

// TransferError reports a failed read or write. It matches cmis.KindTransfer
// under errors.Is.
type TransferError struct {
	Side    Side
	Written int64 // bytes successfully written to the sink before the failure
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("relay: %s failed after %d bytes: %v", e.Side, e.Written, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func (e *TransferError) Is(target error) bool {
	return target == cmis.KindTransfer
}

// flushError is implemented by buffered sinks such as *bufio.Writer.
type flushError interface {
	Flush() error
}

// Copy copies src to dst in chunks of chunkSize bytes until src reports
// io.EOF, then flushes dst. Copy owns both ends: whichever of them implements
// io.Closer is closed before Copy returns, on every path.
//
// On the first read or write failure Copy stops without issuing further
// writes and returns a *TransferError naming the failing side. A partially
// written sink is a failed transfer.
func Copy(dst io.Writer, src io.Reader, chunkSize int) (written int64, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	defer func() {
		if c, ok := src.(io.Closer); ok {
			// Every byte has been consumed or the transfer already failed;
			// a close error on the source changes neither outcome.
			_ = c.Close()
		}
		if c, ok := dst.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = &TransferError{Side: SideSink, Written: written, Err: cerr}
			}
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw < 0 || nw > nr {
				nw = 0
				if werr == nil {
					werr = errors.New("invalid write result")
				}
			}
			written += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, &TransferError{Side: SideSink, Written: written, Err: werr}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return written, &TransferError{Side: SideSource, Written: written, Err: rerr}
		}
	}

	switch f := dst.(type) {
	case flushError:
		if ferr := f.Flush(); ferr != nil {
			return written, &TransferError{Side: SideSink, Written: written, Err: ferr}
		}
	case http.Flusher:
		f.Flush()
	}

	return written, nil
}
