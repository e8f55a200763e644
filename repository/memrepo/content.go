package memrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/relay"
	"github.com/ggoodman/cmis-bindings-go/storage"
)

type blobInput struct {
	data     []byte
	mimeType string
	filename string
}

// readContent drains cs into memory, failing once it exceeds the
// repository's content limit. cs.Stream is closed by relay.Copy.
func (r *Repository) readContent(op string, cs *cmis.ContentStream) (*blobInput, error) {
	if r.maxContent > 0 && cs.Length > r.maxContent {
		cs.Close()
		return nil, cmis.Errorf(cmis.KindConstraint, op, "content of %d bytes exceeds %d", cs.Length, r.maxContent)
	}
	var src io.ReadCloser = cs.Stream
	if r.maxContent > 0 {
		src = limitedStream{io.LimitReader(cs.Stream, r.maxContent+1), cs.Stream}
	}
	var buf bytes.Buffer
	if cs.Length > 0 {
		buf.Grow(int(min(cs.Length, 16<<20)))
	}
	if _, err := relay.Copy(&buf, src, 0); err != nil {
		return nil, cmis.Wrap(cmis.KindTransfer, op, err)
	}
	if r.maxContent > 0 && int64(buf.Len()) > r.maxContent {
		return nil, cmis.Errorf(cmis.KindConstraint, op, "content exceeds %d bytes", r.maxContent)
	}
	return &blobInput{
		data:     buf.Bytes(),
		mimeType: cs.EffectiveMimeType(),
		filename: cs.Filename,
	}, nil
}

type limitedStream struct {
	io.Reader
	io.Closer
}

func (r *Repository) putContent(ctx context.Context, o *object, objectID string, b *blobInput) error {
	streamID := objectID + "-content-" + r.newID()
	err := r.store.Put(ctx, streamID, &storage.Blob{
		Data:     b.data,
		MimeType: b.mimeType,
		Filename: b.filename,
	}, storage.WithRepository(r.id))
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return cmis.Errorf(cmis.KindConstraint, "setContentStream", "content of %d bytes exceeds the store limit", len(b.data))
	case errors.Is(err, storage.ErrFull):
		return cmis.Wrap(cmis.KindConstraint, "setContentStream", err)
	}
	if err != nil {
		return cmis.Wrap(cmis.KindRuntime, "setContentStream", err)
	}
	if err := r.dropContent(ctx, o); err != nil {
		r.log.WarnContext(ctx, "repo.content.orphaned", slog.String("stream", o.streamID), slog.String("err", err.Error()))
	}
	o.streamID = streamID
	o.props.Set(cmis.PropContentStreamID, cmis.PropertyTypeID, streamID)
	o.props.Set(cmis.PropContentStreamLength, cmis.PropertyTypeInteger, int64(len(b.data)))
	o.props.Set(cmis.PropContentStreamMimeType, cmis.PropertyTypeString, b.mimeType)
	o.props.Set(cmis.PropContentStreamFileName, cmis.PropertyTypeString, b.filename)
	return nil
}

func (r *Repository) copyContent(ctx context.Context, from, to *object, objectID string) error {
	blob, err := r.store.Get(ctx, from.streamID, storage.WithRepository(r.id))
	if err != nil {
		return cmis.Wrap(cmis.KindRuntime, "checkIn", err)
	}
	if blob == nil {
		return cmis.Errorf(cmis.KindConsistency, "checkIn", "content %q is missing from the store", from.streamID)
	}
	return r.putContent(ctx, to, objectID, &blobInput{data: blob.Data, mimeType: blob.MimeType, filename: blob.Filename})
}

// dropContent deletes the blob of o, if any, and clears its content
// properties.
func (r *Repository) dropContent(ctx context.Context, o *object) error {
	if o == nil || o.streamID == "" {
		return nil
	}
	if err := r.store.Delete(ctx, storage.WithRepository(r.id), storage.WithKey(o.streamID)); err != nil {
		return cmis.Wrap(cmis.KindRuntime, "deleteContentStream", err)
	}
	o.streamID = ""
	for _, id := range []string{cmis.PropContentStreamID, cmis.PropContentStreamLength, cmis.PropContentStreamMimeType, cmis.PropContentStreamFileName} {
		delete(o.props, id)
	}
	return nil
}

func (r *Repository) GetContentStream(ctx context.Context, repositoryID, objectID, streamID string, rng *cmis.ByteRange) (*cmis.ContentStream, error) {
	const op = "getContentStream"
	r.mu.RLock()
	o, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	current := o.streamID
	r.mu.RUnlock()

	if current == "" {
		return nil, cmis.Wrap(cmis.KindConstraint, op, fmt.Errorf("%q: %w", objectID, cmis.ErrNoContent))
	}
	if streamID != "" && streamID != current {
		return nil, cmis.Errorf(cmis.KindNotFound, op, "stream %q does not belong to %q", streamID, objectID)
	}
	blob, err := r.store.Get(ctx, current, storage.WithRepository(r.id))
	if err != nil {
		return nil, cmis.Wrap(cmis.KindRuntime, op, err)
	}
	if blob == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, op, "content %q of %q is missing from the store", current, objectID)
	}
	stream, err := relay.NewRangeReader(blob.Reader(), rng)
	if err != nil {
		return nil, cmis.Wrap(cmis.KindRuntime, op, err)
	}
	return &cmis.ContentStream{
		Filename: blob.Filename,
		MimeType: blob.MimeType,
		Length:   int64(len(blob.Data)),
		Stream:   stream,
		Range:    rng,
	}, nil
}

func (r *Repository) SetContentStream(ctx context.Context, repositoryID, objectID string, overwrite bool, content *cmis.ContentStream) error {
	const op = "setContentStream"
	if content == nil || content.Stream == nil {
		return cmis.Errorf(cmis.KindMalformedRequest, op, "no content")
	}
	b, err := r.readContent(op, content)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		return err
	}
	if o.base != cmis.BaseTypeDocument {
		return cmis.Errorf(cmis.KindConstraint, op, "object %q is not a document", objectID)
	}
	if o.streamID != "" && !overwrite {
		return cmis.Errorf(cmis.KindConstraint, op, "object %q already has content", objectID)
	}
	if err := r.putContent(ctx, o, objectID, b); err != nil {
		return err
	}
	o.props.Set(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, r.now().UTC())
	r.log.InfoContext(ctx, "repo.content.set", slog.String("id", objectID), slog.Int("bytes", len(b.data)))
	return nil
}

func (r *Repository) DeleteContentStream(ctx context.Context, repositoryID, objectID string) error {
	const op = "deleteContentStream"
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.lookup(op, repositoryID, objectID)
	if err != nil {
		return err
	}
	if o.base != cmis.BaseTypeDocument {
		return cmis.Errorf(cmis.KindConstraint, op, "object %q is not a document", objectID)
	}
	if o.streamID == "" {
		return nil
	}
	if err := r.dropContent(ctx, o); err != nil {
		return err
	}
	o.props.Set(cmis.PropLastModificationDate, cmis.PropertyTypeDateTime, r.now().UTC())
	return nil
}

// coerce converts decoded wire values to the Go representation of typ.
func coerce(typ cmis.PropertyType, in []any) ([]any, error) {
	out := make([]any, 0, len(in))
	for _, v := range in {
		c, err := coerceOne(typ, v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func coerceOne(typ cmis.PropertyType, v any) (any, error) {
	switch typ {
	case cmis.PropertyTypeString, cmis.PropertyTypeID, cmis.PropertyTypeURI, cmis.PropertyTypeHTML:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case cmis.PropertyTypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case cmis.PropertyTypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case cmis.PropertyTypeDecimal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case cmis.PropertyTypeDateTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case int64:
			return time.UnixMilli(t).UTC(), nil
		case float64:
			return time.UnixMilli(int64(t)).UTC(), nil
		case string:
			return time.Parse(time.RFC3339Nano, t)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, typ)
}
