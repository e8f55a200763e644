package httpjson

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/browser"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/testlog"
	"github.com/ggoodman/cmis-bindings-go/repository/memrepo"
	"github.com/ggoodman/cmis-bindings-go/storage/memory"
)

const repoID = "repo"

func newHandle(t *testing.T, endpoint string) binding.Handle {
	t.Helper()
	h, err := New(WithLogger(testlog.New(t)), WithChunkSize(7)).Build(context.Background(), cmis.ObjectService, endpoint)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return h
}

func newBrowser(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := memory.New(100)
	if err != nil {
		t.Fatal(err)
	}
	repo := memrepo.New(repoID, store, memrepo.WithType(memrepo.DocumentType("doc")))
	srv := httptest.NewServer(browser.New(repo, browser.WithLogger(testlog.New(t))))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildValidatesEndpoint(t *testing.T) {
	f := New()
	for _, ep := range []string{"", "not a url", "/relative", "ftp://host/x", "http://"} {
		if _, err := f.Build(context.Background(), cmis.ObjectService, ep); !errors.Is(err, cmis.KindConnection) {
			t.Errorf("Build(%q) err = %v, want connection error", ep, err)
		}
	}
	h, err := f.Build(context.Background(), cmis.NavigationService, "http://example.test/cmis/browser/")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if h.URL() != "http://example.test/cmis/browser" || h.Service() != cmis.NavigationService {
		t.Fatalf("handle = %s %s", h.URL(), h.Service())
	}
}

func docProps(name string) cmis.Properties {
	p := cmis.Properties{}
	p.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, "doc")
	p.Set(cmis.PropName, cmis.PropertyTypeString, name)
	return p
}

func TestCreateAndReadBack(t *testing.T) {
	srv := newBrowser(t)
	h := newHandle(t, srv.URL)
	ctx := context.Background()
	data := strings.Repeat("0123456789", 100)

	create := &binding.Call{
		Operation:    binding.OpCreateDocument,
		RepositoryID: repoID,
		Properties:   docProps("x"),
		Content: &cmis.ContentStream{
			Filename: "x.txt",
			MimeType: "text/plain",
			Length:   int64(len(data)),
			Stream:   io.NopCloser(strings.NewReader(data)),
		},
	}
	create.SetParam(binding.ParamFolderID, memrepo.RootFolderID)
	reply, err := h.Do(ctx, create)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reply.StatusCode != http.StatusCreated || reply.ObjectID == "" {
		t.Fatalf("create reply = %d %q", reply.StatusCode, reply.ObjectID)
	}
	id := reply.ObjectID

	reply, err = h.Do(ctx, &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: id})
	if err != nil {
		t.Fatalf("getObject: %v", err)
	}
	if reply.Object.Name() != "x" {
		t.Fatalf("name = %q", reply.Object.Name())
	}
	if n, _ := reply.Object.Properties.Int(cmis.PropContentStreamLength); n != 1000 {
		t.Fatalf("content length property = %d", n)
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
	defer reply.Content.Close()
	got, _ := io.ReadAll(reply.Content.Stream)
	if reply.StatusCode != http.StatusPartialContent || string(got) != data[100:150] {
		t.Fatalf("ranged content: status %d, %q", reply.StatusCode, got)
	}
	if reply.Content.Length != 1000 || reply.Content.Filename != "x.txt" || reply.Content.MimeType != "text/plain" {
		t.Fatalf("content metadata = %+v", reply.Content)
	}
}

func TestStatusErrors(t *testing.T) {
	srv := newBrowser(t)
	h := newHandle(t, srv.URL)

	_, err := h.Do(context.Background(), &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: "missing"})
	var se *binding.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T %v, want *binding.StatusError", err, err)
	}
	if se.StatusCode != http.StatusNotFound || !errors.Is(err, cmis.KindNotFound) || se.Message == "" {
		t.Fatalf("status error = %+v", se)
	}

	_, err = h.Do(context.Background(), &binding.Call{Operation: binding.OpCreateFolder, RepositoryID: repoID, Properties: docProps("")})
	if !errors.Is(err, cmis.KindMalformedRequest) && !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("create folder with document type err = %v", err)
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "s=1")
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newHandle(t, srv.URL).Do(context.Background(), &binding.Call{Operation: binding.OpGetObject, RepositoryID: repoID, ObjectID: "x"})
	var se *binding.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if se.Kind != cmis.KindConnection || se.Message != "go away" || se.Header.Get("Set-Cookie") == "" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestIgnoredRangeAppliedLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("call header not forwarded")
		}
		_, _ = io.WriteString(w, "abcdefghij")
	}))
	defer srv.Close()

	reply, err := newHandle(t, srv.URL).Do(context.Background(), &binding.Call{
		Operation:    binding.OpGetContentStream,
		RepositoryID: repoID,
		ObjectID:     "x",
		Range:        &cmis.ByteRange{Offset: 2, Length: 3},
		Header:       http.Header{"X-Test": {"yes"}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer reply.Content.Close()
	got, _ := io.ReadAll(reply.Content.Stream)
	if string(got) != "cde" {
		t.Fatalf("content = %q, want cde", got)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	h := newHandle(t, "http://example.test")
	_, err := h.Do(context.Background(), &binding.Call{Operation: "query", RepositoryID: repoID})
	if !errors.Is(err, cmis.KindMalformedRequest) {
		t.Fatalf("err = %v", err)
	}
}
