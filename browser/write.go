package browser

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/Jeffail/gabs"
	"github.com/elnormous/contenttype"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/browserjson"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
	"github.com/ggoodman/cmis-bindings-go/internal/typecache"
	"github.com/google/uuid"
)

var (
	formMediaType      = contenttype.NewMediaType("application/x-www-form-urlencoded")
	multipartMediaType = contenttype.NewMediaType("multipart/form-data")
)

const (
	// maxFormBytes bounds the field bytes of a write request, summed over
	// all fields. The multipart content part is streamed and not counted.
	maxFormBytes = 1 << 20
	maxFormParts = 1000
)

// postForm is a decoded write request. content is the multipart content
// part, positioned at its first byte, or nil.
type postForm struct {
	values  url.Values
	content *cmis.ContentStream
}

func (f *postForm) close() {
	if f != nil {
		f.content.Close()
	}
}

func setObjectID(r *http.Request, id string) {
	if cd, ok := logctx.CallDataFrom(r.Context()); ok {
		cd.ObjectID = id
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	// The body is read only once the caller is authenticated.
	r, ok := h.begin(w, r, "post")
	if !ok {
		return
	}
	form, err := readForm(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer form.close()

	action := form.values.Get(browserjson.ParamAction)
	if cd, ok := logctx.CallDataFrom(r.Context()); ok && action != "" {
		cd.Action = action
	}
	switch action {
	case browserjson.ActionCreateDocument:
		h.createDocument(w, r, form)
	case browserjson.ActionCreateFolder:
		h.createFolder(w, r, form)
	case browserjson.ActionDelete:
		h.deleteObject(w, r, form)
	case browserjson.ActionSetContent:
		h.setContentStream(w, r, form)
	case browserjson.ActionDeleteContent:
		h.deleteContentStream(w, r, form)
	case "":
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, "post", "%s is required", browserjson.ParamAction))
	default:
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, "post", "unknown action %q", action))
	}
}

// readForm decodes an url-encoded or multipart body. Multipart fields are
// read until the content part, which is left unread for the action.
func readForm(w http.ResponseWriter, r *http.Request) (*postForm, error) {
	const op = "decodeForm"
	mt, err := contenttype.GetMediaType(r)
	if err != nil {
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "content type: %w", err)
	}
	switch {
	case mt.Matches(formMediaType):
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "parse form: %w", err)
		}
		return &postForm{values: r.PostForm}, nil
	case mt.Matches(multipartMediaType):
		mr, err := r.MultipartReader()
		if err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "multipart: %w", err)
		}
		return readMultipart(mr)
	default:
		return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "unsupported content type %q", mt.String())
	}
}

func readMultipart(mr *multipart.Reader) (*postForm, error) {
	const op = "decodeForm"
	form := &postForm{values: url.Values{}}
	budget := int64(maxFormBytes)
	for parts := 0; ; parts++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "multipart: %w", err)
		}
		if part.FormName() == browserjson.FieldContent {
			form.content = &cmis.ContentStream{
				Filename: part.FileName(),
				MimeType: part.Header.Get("Content-Type"),
				Length:   cmis.UnknownLength,
				Stream:   part,
			}
			return form, nil
		}
		if parts >= maxFormParts {
			part.Close()
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "more than %d form fields", maxFormParts)
		}
		v, err := io.ReadAll(io.LimitReader(part, budget+1))
		part.Close()
		if err != nil {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "read field %q: %w", part.FormName(), err)
		}
		if int64(len(v)) > budget {
			return nil, cmis.Errorf(cmis.KindMalformedRequest, op, "form fields exceed %d bytes", maxFormBytes)
		}
		budget -= int64(len(v))
		form.values.Add(part.FormName(), string(v))
	}
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request, form *postForm) {
	const op = "createDocument"
	ctx := r.Context()
	repositoryID := r.PathValue("repositoryId")

	req, ok := h.createRequest(w, r, form.values, op)
	if !ok {
		return
	}
	state, err := cmis.ParseVersioningState(form.values.Get(browserjson.ParamVersioningState))
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}
	content := form.content
	form.content = nil
	id, err := h.svc.CreateDocument(ctx, repositoryID, &cmis.CreateDocumentRequest{
		Properties:      req.Properties,
		FolderID:        req.FolderID,
		Content:         content,
		VersioningState: state,
		Policies:        req.Policies,
		AddACEs:         req.AddACEs,
		RemoveACEs:      req.RemoveACEs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, r, form.values, id)
}

func (h *Handler) createFolder(w http.ResponseWriter, r *http.Request, form *postForm) {
	const op = "createFolder"
	req, ok := h.createRequest(w, r, form.values, op)
	if !ok {
		return
	}
	id, err := h.svc.CreateFolder(r.Context(), r.PathValue("repositoryId"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.created(w, r, form.values, id)
}

// createRequest decodes the arguments shared by the create actions.
func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request, form url.Values, op string) (*cmis.CreateFolderRequest, bool) {
	props, err := browserjson.Properties(form)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	folderID := form.Get(browserjson.ParamFolderID)
	setObjectID(r, folderID)
	return &cmis.CreateFolderRequest{
		Properties: props,
		FolderID:   folderID,
		Policies:   browserjson.Policies(form),
		AddACEs:    browserjson.ACEs(form, "addACE"),
		RemoveACEs: browserjson.ACEs(form, "removeACE"),
	}, true
}

// created answers a successful create: it reads back the new object, sets
// the correlation cookie and responds 201 with the object document.
func (h *Handler) created(w http.ResponseWriter, r *http.Request, form url.Values, id string) {
	ctx := r.Context()
	repositoryID := r.PathValue("repositoryId")
	setObjectID(r, id)

	info, err := h.svc.GetObjectInfo(ctx, repositoryID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if info == nil || info.Object == nil {
		h.fail(w, r, cmis.Errorf(cmis.KindConsistency, "getObjectInfo", "no object info for new object %q", id))
		return
	}
	body, err := browserjson.EncodeObject(ctx, info.Object, typecache.New(h.svc, repositoryID))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token := form.Get(browserjson.ParamTransaction)
	if token == "" {
		token = uuid.NewString()
		w.Header().Set(TransactionHeader, token)
	}
	http.SetCookie(w, correlationCookie(token, http.StatusCreated, id))
	h.log.InfoContext(ctx, "http.create.ok", slog.String("id", id))
	h.writeJSON(w, http.StatusCreated, body)
}

// CookieName returns the name of the correlation cookie for token.
func CookieName(token string) string { return "cmis_" + token }

func correlationCookie(token string, code int, objectID string) *http.Cookie {
	v := gabs.New()
	_, _ = v.Set(code, "code")
	_, _ = v.Set(objectID, "objectId")
	return &http.Cookie{
		Name:     CookieName(token),
		Value:    url.QueryEscape(v.String()),
		Path:     "/",
		HttpOnly: true,
	}
}

func (h *Handler) targetObject(w http.ResponseWriter, r *http.Request, form url.Values, op string) (string, bool) {
	id := form.Get(browserjson.ParamObjectID)
	if id == "" {
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, op, "%s is required", browserjson.ParamObjectID))
		return "", false
	}
	setObjectID(r, id)
	return id, true
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request, form *postForm) {
	const op = "deleteObject"
	id, ok := h.targetObject(w, r, form.values, op)
	if !ok {
		return
	}
	allVersions, err := boolParam(form.values, browserjson.ParamAllVersions, true)
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}
	if err := h.svc.DeleteObject(r.Context(), r.PathValue("repositoryId"), id, allVersions); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "http.delete.ok")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) setContentStream(w http.ResponseWriter, r *http.Request, form *postForm) {
	const op = "setContentStream"
	id, ok := h.targetObject(w, r, form.values, op)
	if !ok {
		return
	}
	overwrite, err := boolParam(form.values, browserjson.ParamOverwrite, true)
	if err != nil {
		h.fail(w, r, cmis.Wrap(cmis.KindMalformedRequest, op, err))
		return
	}
	if form.content == nil {
		h.fail(w, r, cmis.Errorf(cmis.KindMalformedRequest, op, "no %s part", browserjson.FieldContent))
		return
	}
	content := form.content
	form.content = nil
	if err := h.svc.SetContentStream(r.Context(), r.PathValue("repositoryId"), id, overwrite, content); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondObject(w, r, id)
}

func (h *Handler) deleteContentStream(w http.ResponseWriter, r *http.Request, form *postForm) {
	const op = "deleteContentStream"
	id, ok := h.targetObject(w, r, form.values, op)
	if !ok {
		return
	}
	if err := h.svc.DeleteContentStream(r.Context(), r.PathValue("repositoryId"), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondObject(w, r, id)
}

func (h *Handler) respondObject(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	repositoryID := r.PathValue("repositoryId")
	obj, err := h.svc.GetObject(ctx, repositoryID, id, cmis.ObjectOptions{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if obj == nil {
		h.fail(w, r, cmis.Errorf(cmis.KindConsistency, "getObject", "repository returned no object for %q", id))
		return
	}
	body, err := browserjson.EncodeObject(ctx, obj, typecache.New(h.svc, repositoryID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, body)
}
