package browser

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/browserjson"
	"github.com/ggoodman/cmis-bindings-go/internal/httpwire"
	"github.com/ggoodman/cmis-bindings-go/internal/typecache"
	"github.com/ggoodman/cmis-bindings-go/relay"
)

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get(browserjson.ParamSelector)
	if selector == "" {
		selector = browserjson.SelectorObject
	}
	r, ok := h.begin(w, r, selector)
	if !ok {
		return
	}
	switch selector {
	case browserjson.SelectorObject:
		h.getObject(w, r)
	case browserjson.SelectorContent:
		h.getContentStream(w, r)
	default:
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, "get", "unknown selector %q", selector))
	}
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request) {
	const op = "getObject"
	ctx := r.Context()
	q := r.URL.Query()
	repositoryID := r.PathValue("repositoryId")

	objectID := q.Get(browserjson.ParamObjectID)
	if objectID == "" {
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, op, "%s is required", browserjson.ParamObjectID))
		return
	}
	setObjectID(r, objectID)
	rv, err := cmis.ParseReturnVersion(q.Get(browserjson.ParamReturnVersion))
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}
	opts, err := objectOptions(q)
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}

	var obj *cmis.ObjectData
	switch rv {
	case cmis.ReturnLatest, cmis.ReturnLatestMajor:
		obj, err = h.svc.GetObjectOfLatestVersion(ctx, repositoryID, objectID, rv == cmis.ReturnLatestMajor, opts)
	default:
		obj, err = h.svc.GetObject(ctx, repositoryID, objectID, opts)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if obj == nil {
		h.fail(w, r, cmis.Errorf(cmis.KindConsistency, op, "repository returned no object for %q", objectID))
		return
	}
	body, err := browserjson.EncodeObject(ctx, obj, typecache.New(h.svc, repositoryID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, body)
}

func objectOptions(q url.Values) (cmis.ObjectOptions, error) {
	opts := cmis.ObjectOptions{Filter: q.Get(browserjson.ParamFilter)}
	for name, dst := range map[string]*bool{
		browserjson.ParamIncludeAllowableActions: &opts.IncludeAllowableActions,
		browserjson.ParamIncludePolicyIDs:        &opts.IncludePolicyIDs,
		browserjson.ParamIncludeACL:              &opts.IncludeACL,
	} {
		v, err := boolParam(q, name, false)
		if err != nil {
			return opts, err
		}
		*dst = v
	}
	return opts, nil
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	s := q.Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func (h *Handler) getContentStream(w http.ResponseWriter, r *http.Request) {
	const op = "getContentStream"
	ctx := r.Context()
	q := r.URL.Query()
	repositoryID := r.PathValue("repositoryId")

	objectID := q.Get(browserjson.ParamObjectID)
	if objectID == "" {
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, op, "%s is required", browserjson.ParamObjectID))
		return
	}
	setObjectID(r, objectID)
	rng, err := requestedRange(r)
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}

	cs, err := h.svc.GetContentStream(ctx, repositoryID, objectID, q.Get(browserjson.ParamStreamID), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cs == nil || cs.Stream == nil {
		cs.Close()
		h.fail(w, r, cmis.Errorf(cmis.KindConsistency, op, "repository returned no content stream for %q", objectID))
		return
	}

	status := httpwire.SetContentHeaders(w.Header(), cs, rng)
	w.WriteHeader(status)

	n, err := relay.Copy(w, cs.Stream, h.chunkSize)
	h.metrics.AddRelayed(n, err)
	if err != nil {
		// The status line is already on the wire; the client sees a short body.
		h.log.ErrorContext(ctx, "relay.fail", slog.Int64("written", n), slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.content.ok", slog.Int64("bytes", n), slog.Int("status", status))
}

// requestedRange reads offset/length query parameters or, when neither is
// present, a single "bytes=a-b" Range header. Range forms that cannot be
// expressed as offset and length are ignored and the whole stream is served.
func requestedRange(r *http.Request) (*cmis.ByteRange, error) {
	q := r.URL.Query()
	offset, err := int64Param(q, browserjson.ParamOffset)
	if err != nil {
		return nil, err
	}
	length, err := int64Param(q, browserjson.ParamLength)
	if err != nil {
		return nil, err
	}
	if offset != nil || length != nil {
		return cmis.NewByteRange(offset, length)
	}
	return httpwire.ParseRange(r.Header.Get("Range"))
}

func int64Param(q url.Values, name string) (*int64, error) {
	s := q.Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &v, nil
}
