package restxml

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/testlog"
	"github.com/ggoodman/cmis-bindings-go/repository/memrepo"
	"github.com/ggoodman/cmis-bindings-go/storage/memory"
)

const repoID = "repo"

func newEndpoint(t *testing.T) (binding.Handle, *memrepo.Repository) {
	t.Helper()
	store, err := memory.New(100)
	if err != nil {
		t.Fatal(err)
	}
	repo := memrepo.New(repoID, store, memrepo.WithType(memrepo.DocumentType("doc")))
	srv := httptest.NewServer(NewServer(repo, WithServerLogger(testlog.New(t))))
	t.Cleanup(srv.Close)

	h, err := New(WithLogger(testlog.New(t))).Build(context.Background(), cmis.ObjectService, srv.URL+"/")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return h, repo
}

func props(typeID, name string) cmis.Properties {
	p := cmis.Properties{}
	p.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, typeID)
	p.Set(cmis.PropName, cmis.PropertyTypeString, name)
	return p
}

func textContent(s string) *cmis.ContentStream {
	return &cmis.ContentStream{
		Filename: "x.txt",
		MimeType: "text/plain",
		Length:   int64(len(s)),
		Stream:   io.NopCloser(strings.NewReader(s)),
	}
}

func createDocument(t *testing.T, h binding.Handle, folderID, name, data string) string {
	t.Helper()
	call := &binding.Call{
		Operation:    binding.OpCreateDocument,
		RepositoryID: repoID,
		Properties:   props("doc", name),
		Content:      textContent(data),
	}
	if folderID != "" {
		call.SetParam(binding.ParamFolderID, folderID)
	}
	reply, err := h.Do(context.Background(), call)
	if err != nil {
		t.Fatalf("createDocument: %v", err)
	}
	if reply.StatusCode != http.StatusCreated || reply.ObjectID == "" {
		t.Fatalf("createDocument reply = %d %q", reply.StatusCode, reply.ObjectID)
	}
	return reply.ObjectID
}

func readAll(t *testing.T, cs *cmis.ContentStream) string {
	t.Helper()
	defer cs.Close()
	b, err := io.ReadAll(cs.Stream)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCreateAndReadBack(t *testing.T) {
	h, _ := newEndpoint(t)
	ctx := context.Background()
	data := strings.Repeat("0123456789", 100)
	id := createDocument(t, h, memrepo.RootFolderID, "x", data)

	reply, err := h.Do(ctx, &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: id})
	if err != nil {
		t.Fatalf("getObject: %v", err)
	}
	if got := reply.Object.Name(); got != "x" {
		t.Fatalf("name = %q", got)
	}
	if n, ok := reply.Object.Properties.Int(cmis.PropContentStreamLength); !ok || n != 1000 {
		t.Fatalf("content length = %d %v", n, ok)
	}
	if _, ok := reply.Object.Properties.Time(cmis.PropCreationDate); !ok {
		t.Fatal("creation date did not survive as a datetime")
	}

	reply, err = h.Do(ctx, &binding.Call{
		Operation:    binding.OpGetContentStream,
		RepositoryID: repoID,
		ObjectID:     id,
		Range:        &cmis.ByteRange{Offset: 100, Length: 50},
	})
	if err != nil {
		t.Fatalf("getContentStream: %v", err)
	}
	if reply.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d", reply.StatusCode)
	}
	if reply.Content.Length != 1000 || reply.Content.Filename != "x.txt" {
		t.Fatalf("content = %+v", reply.Content)
	}
	if got := readAll(t, reply.Content); got != data[100:150] {
		t.Fatalf("range = %q", got)
	}
}

func TestUnfiledAndFolders(t *testing.T) {
	h, _ := newEndpoint(t)
	ctx := context.Background()

	folder := &binding.Call{Operation: binding.OpCreateFolder, RepositoryID: repoID, Properties: props(string(cmis.BaseTypeFolder), "f")}
	if _, err := h.Do(ctx, folder); !errors.Is(err, cmis.KindMalformedRequest) {
		t.Fatalf("folder without parent err = %v", err)
	}
	folder.SetParam(binding.ParamFolderID, memrepo.RootFolderID)
	reply, err := h.Do(ctx, folder)
	if err != nil {
		t.Fatalf("createFolder: %v", err)
	}
	folderID := reply.ObjectID
	if reply.Object.BaseType() != cmis.BaseTypeFolder {
		t.Fatalf("base type = %q", reply.Object.BaseType())
	}

	createDocument(t, h, folderID, "inner", "abc")
	unfiled := createDocument(t, h, "", "loose", "def")

	_, err = h.Do(ctx, &binding.Call{Operation: binding.OpDeleteObject, RepositoryID: repoID, ObjectID: folderID})
	var se *binding.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict || se.Kind != cmis.KindConstraint {
		t.Fatalf("delete non-empty folder err = %v", err)
	}

	reply, err = h.Do(ctx, &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: unfiled})
	if err != nil {
		t.Fatalf("getObject: %v", err)
	}
	if got := reply.Object.Properties.String(cmis.PropParentID); got != "" {
		t.Fatalf("unfiled parent = %q", got)
	}
}

func TestContentLifecycle(t *testing.T) {
	h, _ := newEndpoint(t)
	ctx := context.Background()
	id := createDocument(t, h, memrepo.RootFolderID, "x", "first")

	set := func(overwrite string) (*binding.Reply, error) {
		call := &binding.Call{Operation: binding.OpSetContentStream, RepositoryID: repoID, ObjectID: id, Content: textContent("second!")}
		call.SetParam(binding.ParamOverwrite, overwrite)
		return h.Do(ctx, call)
	}
	if _, err := set("false"); !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("set without overwrite err = %v", err)
	}
	reply, err := set("true")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if n, _ := reply.Object.Properties.Int(cmis.PropContentStreamLength); n != 7 {
		t.Fatalf("length after set = %d", n)
	}

	reply, err = h.Do(ctx, &binding.Call{Operation: binding.OpGetContentStream, RepositoryID: repoID, ObjectID: id})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reply.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", reply.StatusCode)
	}
	if got := readAll(t, reply.Content); got != "second!" {
		t.Fatalf("content = %q", got)
	}

	if _, err := h.Do(ctx, &binding.Call{Operation: binding.OpDeleteContentStream, RepositoryID: repoID, ObjectID: id}); err != nil {
		t.Fatalf("deleteContentStream: %v", err)
	}
	if _, err := h.Do(ctx, &binding.Call{Operation: binding.OpGetContentStream, RepositoryID: repoID, ObjectID: id}); !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("get after delete err = %v", err)
	}

	reply, err = h.Do(ctx, &binding.Call{Operation: binding.OpDeleteObject, RepositoryID: repoID, ObjectID: id})
	if err != nil {
		t.Fatalf("deleteObject: %v", err)
	}
	if reply.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", reply.StatusCode)
	}
	if _, err := h.Do(ctx, &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: id}); !errors.Is(err, cmis.KindNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestLatestVersion(t *testing.T) {
	h, repo := newEndpoint(t)
	ctx := context.Background()
	id := createDocument(t, h, memrepo.RootFolderID, "x", "v1")
	next, err := repo.CheckIn(ctx, repoID, id, false, textContent("v2"))
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	call := &binding.Call{Operation: binding.OpGetObjectOfLatestVersion, RepositoryID: repoID, ObjectID: id}
	reply, err := h.Do(ctx, call)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if reply.ObjectID != next {
		t.Fatalf("latest = %q, want %q", reply.ObjectID, next)
	}
	call.SetParam(binding.ParamMajor, "true")
	if reply, err = h.Do(ctx, call); err != nil {
		t.Fatalf("latest major: %v", err)
	}
	if reply.ObjectID != id {
		t.Fatalf("latest major = %q, want %q", reply.ObjectID, id)
	}
}

func TestErrors(t *testing.T) {
	h, _ := newEndpoint(t)
	ctx := context.Background()
	tests := []struct {
		name string
		call *binding.Call
		kind cmis.Kind
	}{
		{"unknown type", &binding.Call{Operation: binding.OpCreateDocument, RepositoryID: repoID, Properties: props("nope", "x"), Params: map[string]string{binding.ParamFolderID: memrepo.RootFolderID}}, cmis.KindMalformedRequest},
		{"missing object", &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: "nope"}, cmis.KindNotFound},
		{"unknown repository", &binding.Call{Operation: binding.OpGetObject, RepositoryID: "other", ObjectID: memrepo.RootFolderID}, cmis.KindNotFound},
		{"no object id", &binding.Call{Operation: binding.OpDeleteObject, RepositoryID: repoID}, cmis.KindMalformedRequest},
		{"set without content", &binding.Call{Operation: binding.OpSetContentStream, RepositoryID: repoID, ObjectID: memrepo.RootFolderID}, cmis.KindMalformedRequest},
		{"unsupported", &binding.Call{Operation: "query", RepositoryID: repoID}, cmis.KindMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.Do(ctx, tt.call); !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind.String())
			}
		})
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	h, err := New().Build(context.Background(), cmis.ObjectService, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Do(context.Background(), &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: "x"})
	var se *binding.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if se.Kind != cmis.KindConnection || se.Message != "go away" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestEntryPropertyTypes(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	p := cmis.Properties{}
	p.Set("ex:count", cmis.PropertyTypeInteger, int64(42))
	p.Set("ex:ratio", cmis.PropertyTypeDecimal, 0.25)
	p.Set("ex:flag", cmis.PropertyTypeBoolean, true)
	p.Set("ex:when", cmis.PropertyTypeDateTime, when)
	p.Set("ex:tags", cmis.PropertyTypeString, "a", "b")

	raw, err := xml.Marshal(newEntry(&cmis.ObjectData{Properties: p, PolicyIDs: []string{"p1"}}))
	if err != nil {
		t.Fatal(err)
	}
	var e Entry
	if err := xml.Unmarshal(raw, &e); err != nil {
		t.Fatal(err)
	}
	obj, err := e.objectData()
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := obj.Properties.Int("ex:count"); n != 42 {
		t.Errorf("count = %d", n)
	}
	if v := obj.Properties["ex:ratio"].First(); v != 0.25 {
		t.Errorf("ratio = %v", v)
	}
	if b, _ := obj.Properties.Bool("ex:flag"); !b {
		t.Error("flag lost")
	}
	if got, _ := obj.Properties.Time("ex:when"); !got.Equal(when) {
		t.Errorf("when = %v", got)
	}
	if vs := obj.Properties["ex:tags"].Values; len(vs) != 2 || vs[1] != "b" {
		t.Errorf("tags = %v", vs)
	}
	if len(obj.PolicyIDs) != 1 || obj.PolicyIDs[0] != "p1" {
		t.Errorf("policies = %v", obj.PolicyIDs)
	}

	e.Object.Properties[0].Values = []string{"not a number"}
	e.Object.Properties[0].Type = string(cmis.PropertyTypeInteger)
	if _, err := e.objectData(); err == nil {
		t.Error("expected error for bad integer")
	}
}
