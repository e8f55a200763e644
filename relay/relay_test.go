package relay

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// trackingSource is a reader that records whether it was closed.
type trackingSource struct {
	r      io.Reader
	closed bool
	err    error // returned after r is exhausted instead of io.EOF
}

func (s *trackingSource) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF && s.err != nil {
		return n, s.err
	}
	return n, err
}

func (s *trackingSource) Close() error {
	s.closed = true
	return nil
}

// trackingSink accepts up to failAt bytes and then fails every write.
type trackingSink struct {
	buf     bytes.Buffer
	failAt  int
	writes  int
	failed  int
	closed  bool
	flushed int
}

func (s *trackingSink) Write(p []byte) (int, error) {
	s.writes++
	if s.failAt >= 0 && s.buf.Len()+len(p) > s.failAt {
		s.failed++
		n := s.failAt - s.buf.Len()
		s.buf.Write(p[:n])
		return n, errors.New("disk full")
	}
	return s.buf.Write(p)
}

func (s *trackingSink) Flush() error {
	s.flushed++
	return nil
}

func (s *trackingSink) Close() error {
	s.closed = true
	return nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + (i/10)%10)
	}
	return b
}

func TestCopyVerbatim(t *testing.T) {
	const c = 16
	for _, l := range []int{0, 1, c - 1, c, c + 1, 10*c + 7} {
		data := pattern(l)
		src := &trackingSource{r: bytes.NewReader(data)}
		dst := &trackingSink{failAt: -1}

		n, err := Copy(dst, src, c)
		if err != nil {
			t.Fatalf("L=%d: Copy: %v", l, err)
		}
		if n != int64(l) {
			t.Fatalf("L=%d: copied %d bytes", l, n)
		}
		if !bytes.Equal(dst.buf.Bytes(), data) {
			t.Fatalf("L=%d: sink content differs", l)
		}
		if dst.flushed != 1 {
			t.Fatalf("L=%d: sink flushed %d times, want 1", l, dst.flushed)
		}
		if !src.closed || !dst.closed {
			t.Fatalf("L=%d: handles not released (src=%v dst=%v)", l, src.closed, dst.closed)
		}
	}
}

func TestCopyWriteFailure(t *testing.T) {
	const c = 16
	data := pattern(10*c + 7)
	k := 3*c + 5

	src := &trackingSource{r: bytes.NewReader(data)}
	dst := &trackingSink{failAt: k}

	n, err := Copy(dst, src, c)
	if err == nil {
		t.Fatal("expected transfer error")
	}
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransferError, got %T: %v", err, err)
	}
	if te.Side != SideSink {
		t.Fatalf("failing side = %s, want sink", te.Side)
	}
	if !errors.Is(err, cmis.KindTransfer) {
		t.Fatal("transfer error should match cmis.KindTransfer")
	}
	if n != int64(k) {
		t.Fatalf("written = %d, want %d", n, k)
	}
	if dst.failed != 1 {
		t.Fatalf("writes after failure: %d failing writes observed", dst.failed)
	}
	if dst.writes != k/c+1 {
		t.Fatalf("total writes = %d, want %d", dst.writes, k/c+1)
	}
	if dst.flushed != 0 {
		t.Fatal("failed transfer must not flush")
	}
	if !src.closed || !dst.closed {
		t.Fatalf("handles not released (src=%v dst=%v)", src.closed, dst.closed)
	}
}

func TestCopyReadFailure(t *testing.T) {
	boom := errors.New("connection reset")
	src := &trackingSource{r: bytes.NewReader(pattern(40)), err: boom}
	dst := &trackingSink{failAt: -1}

	_, err := Copy(dst, src, 16)
	var te *TransferError
	if !errors.As(err, &te) || te.Side != SideSource {
		t.Fatalf("expected source transfer error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("transfer error should wrap the read failure")
	}
	if !src.closed || !dst.closed {
		t.Fatal("handles not released")
	}
}

func TestCopyDefaultChunkSize(t *testing.T) {
	data := pattern(DefaultChunkSize*2 + 3)
	var out bytes.Buffer
	n, err := Copy(&out, bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != int64(len(data)) || !bytes.Equal(out.Bytes(), data) {
		t.Fatal("content mismatch with default chunk size")
	}
}

func TestRangeReader(t *testing.T) {
	data := pattern(1000)
	offset, length := int64(100), int64(50)
	rng := &cmis.ByteRange{Offset: offset, Length: length}

	t.Run("seekable", func(t *testing.T) {
		rc, err := NewRangeReader(bytes.NewReader(data), rng)
		if err != nil {
			t.Fatalf("NewRangeReader: %v", err)
		}
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, data[100:150]) {
			t.Fatalf("got %d bytes, want exactly data[100:150]", len(got))
		}
	})

	t.Run("streaming", func(t *testing.T) {
		src := &trackingSource{r: bytes.NewBuffer(data)}
		rc, err := NewRangeReader(src, rng)
		if err != nil {
			t.Fatalf("NewRangeReader: %v", err)
		}
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, data[100:150]) {
			t.Fatalf("got %d bytes, want exactly data[100:150]", len(got))
		}
		_ = rc.Close()
		if !src.closed {
			t.Fatal("closing the range reader should close the source")
		}
	})

	t.Run("past end", func(t *testing.T) {
		rc, err := NewRangeReader(bytes.NewBuffer(data), &cmis.ByteRange{Offset: 5000, Length: -1})
		if err != nil {
			t.Fatalf("NewRangeReader: %v", err)
		}
		got, _ := io.ReadAll(rc)
		if len(got) != 0 {
			t.Fatalf("expected empty read, got %d bytes", len(got))
		}
	})
}
