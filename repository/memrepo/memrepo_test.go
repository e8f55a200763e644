package memrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/internal/testlog"
	"github.com/ggoodman/cmis-bindings-go/storage/memory"
)

const repoID = "repo"

func newRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := memory.New(100)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	n := 0
	return New(repoID, store,
		WithLogger(testlog.New(t)),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
		WithType(DocumentType("doc", prop("ex:title", cmis.PropertyTypeString, cmis.CardinalitySingle, false, true))),
	)
}

func docProps(typeID, name string) cmis.Properties {
	p := cmis.Properties{}
	p.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, typeID)
	p.Set(cmis.PropName, cmis.PropertyTypeString, name)
	return p
}

func content(s string) *cmis.ContentStream {
	return &cmis.ContentStream{
		Filename: "a.txt",
		MimeType: "text/plain",
		Length:   int64(len(s)),
		Stream:   io.NopCloser(strings.NewReader(s)),
	}
}

func readAll(t *testing.T, cs *cmis.ContentStream) string {
	t.Helper()
	defer cs.Close()
	b, err := io.ReadAll(cs.Stream)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	return string(b)
}

func TestCreateDocumentWithContent(t *testing.T) {
	r := newRepo(t)
	ctx := cmis.WithCallContext(context.Background(), &cmis.CallContext{User: "alice"})

	props := docProps("doc", "a.txt")
	props.Set("ex:title", cmis.PropertyTypeString, "A")
	id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: props,
		FolderID:   RootFolderID,
		Content:    content("hello world"),
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	info, err := r.GetObjectInfo(ctx, repoID, id)
	if err != nil {
		t.Fatalf("GetObjectInfo: %v", err)
	}
	if !info.HasContent || !info.HasParent {
		t.Fatalf("info = %+v", info)
	}
	p := info.Object.Properties
	if got := p.String(cmis.PropCreatedBy); got != "alice" {
		t.Fatalf("createdBy = %q", got)
	}
	if got := p.String(cmis.PropVersionLabel); got != "1.0" {
		t.Fatalf("version label = %q, want 1.0", got)
	}
	if n, _ := p.Int(cmis.PropContentStreamLength); n != 11 {
		t.Fatalf("content length = %d", n)
	}
	if got := p.String("ex:title"); got != "A" {
		t.Fatalf("ex:title = %q", got)
	}

	cs, err := r.GetContentStream(ctx, repoID, id, "", nil)
	if err != nil {
		t.Fatalf("GetContentStream: %v", err)
	}
	if cs.MimeType != "text/plain" || cs.Length != 11 {
		t.Fatalf("content metadata = %q %d", cs.MimeType, cs.Length)
	}
	if got := readAll(t, cs); got != "hello world" {
		t.Fatalf("content = %q", got)
	}
}

func TestGetContentStreamRange(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	data := bytes.Repeat([]byte("0123456789"), 100)
	id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps("cmis:document", "big.bin"),
		FolderID:   RootFolderID,
		Content:    content(string(data)),
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	cs, err := r.GetContentStream(ctx, repoID, id, "", &cmis.ByteRange{Offset: 100, Length: 50})
	if err != nil {
		t.Fatalf("GetContentStream: %v", err)
	}
	if cs.Length != 1000 {
		t.Fatalf("total length = %d, want 1000", cs.Length)
	}
	if got := readAll(t, cs); got != string(data[100:150]) {
		t.Fatalf("range content = %q", got)
	}
}

func TestCreateDocumentErrors(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	folderID, err := r.CreateFolder(ctx, repoID, &cmis.CreateFolderRequest{
		Properties: docProps("cmis:folder", "f"),
		FolderID:   RootFolderID,
	})
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	docID, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps("doc", "taken"),
		FolderID:   folderID,
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	unknownProp := docProps("doc", "x")
	unknownProp.Set("ex:nope", cmis.PropertyTypeString, "v")

	tests := []struct {
		name   string
		repo   string
		props  cmis.Properties
		folder string
		want   cmis.Kind
	}{
		{"unknown repository", "other", docProps("doc", "x"), RootFolderID, cmis.KindNotFound},
		{"missing type", repoID, cmis.Properties{}, RootFolderID, cmis.KindMalformedRequest},
		{"unknown type", repoID, docProps("nope", "x"), RootFolderID, cmis.KindMalformedRequest},
		{"folder type", repoID, docProps("cmis:folder", "x"), RootFolderID, cmis.KindConstraint},
		{"missing name", repoID, docProps("doc", ""), RootFolderID, cmis.KindMalformedRequest},
		{"unknown property", repoID, unknownProp, RootFolderID, cmis.KindMalformedRequest},
		{"missing folder", repoID, docProps("doc", "x"), "nope", cmis.KindNotFound},
		{"parent is a document", repoID, docProps("doc", "x"), docID, cmis.KindConstraint},
		{"duplicate name", repoID, docProps("doc", "taken"), folderID, cmis.KindConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := tt.props
			if props.String(cmis.PropName) == "" {
				delete(props, cmis.PropName)
			}
			_, err := r.CreateDocument(ctx, tt.repo, &cmis.CreateDocumentRequest{Properties: props, FolderID: tt.folder})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want kind %s", err, tt.want.String())
			}
		})
	}
}

func TestGetObjectFilterAndIncludes(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps("doc", "a"),
		FolderID:   RootFolderID,
		Policies:   []string{"p1"},
		AddACEs:    []cmis.ACE{{Principal: "bob", Permissions: []string{"cmis:read"}}},
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	od, err := r.GetObject(ctx, repoID, id, cmis.ObjectOptions{Filter: "cmis:name"})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if od.Name() != "a" || od.ID() != id {
		t.Fatalf("filtered object = %v", od.Properties.IDs())
	}
	if _, ok := od.Properties[cmis.PropCreatedBy]; ok {
		t.Fatal("filter should drop cmis:createdBy")
	}
	if od.PolicyIDs != nil || od.ACL != nil || od.AllowableActions != nil {
		t.Fatal("includes should be off by default")
	}

	od, err = r.GetObject(ctx, repoID, id, cmis.ObjectOptions{
		IncludePolicyIDs:        true,
		IncludeACL:              true,
		IncludeAllowableActions: true,
	})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if len(od.PolicyIDs) != 1 || len(od.ACL) != 1 || !od.ACL[0].Direct {
		t.Fatalf("policies=%v acl=%+v", od.PolicyIDs, od.ACL)
	}
	for _, a := range od.AllowableActions {
		if a == "canGetContentStream" {
			t.Fatal("document without content must not allow canGetContentStream")
		}
	}

	if _, err := r.GetObject(ctx, repoID, "missing", cmis.ObjectOptions{}); !errors.Is(err, cmis.KindNotFound) {
		t.Fatalf("missing object err = %v", err)
	}
}

func TestVersioning(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	v1, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties:      docProps("doc", "v"),
		FolderID:        RootFolderID,
		Content:         content("one"),
		VersioningState: cmis.VersioningStateMajor,
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	v2, err := r.CheckIn(ctx, repoID, v1, false, nil)
	if err != nil {
		t.Fatalf("CheckIn minor: %v", err)
	}
	v3, err := r.CheckIn(ctx, repoID, v2, false, content("three"))
	if err != nil {
		t.Fatalf("CheckIn minor with content: %v", err)
	}

	latest, err := r.GetObjectOfLatestVersion(ctx, repoID, v1, false, cmis.ObjectOptions{})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID() != v3 || latest.Properties.String(cmis.PropVersionLabel) != "1.2" {
		t.Fatalf("latest = %s %s", latest.ID(), latest.Properties.String(cmis.PropVersionLabel))
	}
	major, err := r.GetObjectOfLatestVersion(ctx, repoID, v3, true, cmis.ObjectOptions{})
	if err != nil {
		t.Fatalf("latest major: %v", err)
	}
	if major.ID() != v1 {
		t.Fatalf("latest major = %s, want %s", major.ID(), v1)
	}

	cs, err := r.GetContentStream(ctx, repoID, v2, "", nil)
	if err != nil {
		t.Fatalf("GetContentStream v2: %v", err)
	}
	if got := readAll(t, cs); got != "one" {
		t.Fatalf("v2 content = %q, want copied content", got)
	}

	if err := r.DeleteObject(ctx, repoID, v3, false); err != nil {
		t.Fatalf("DeleteObject v3: %v", err)
	}
	latest, err = r.GetObjectOfLatestVersion(ctx, repoID, v1, false, cmis.ObjectOptions{})
	if err != nil || latest.ID() != v2 {
		t.Fatalf("after delete latest = %v, %v", latest.ID(), err)
	}
	if ok, _ := latest.Properties.Bool(cmis.PropIsLatestVersion); !ok {
		t.Fatal("v2 should be flagged latest")
	}

	if err := r.DeleteObject(ctx, repoID, v1, true); err != nil {
		t.Fatalf("DeleteObject all versions: %v", err)
	}
	if _, err := r.GetObject(ctx, repoID, v2, cmis.ObjectOptions{}); !errors.Is(err, cmis.KindNotFound) {
		t.Fatalf("v2 should be gone, err = %v", err)
	}
}

func TestContentLifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps("doc", "c"),
		FolderID:   RootFolderID,
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if _, err := r.GetContentStream(ctx, repoID, id, "", nil); !errors.Is(err, cmis.ErrNoContent) || !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("no content err = %v", err)
	}
	if err := r.SetContentStream(ctx, repoID, id, false, content("first")); err != nil {
		t.Fatalf("SetContentStream: %v", err)
	}
	if err := r.SetContentStream(ctx, repoID, id, false, content("second")); !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("set without overwrite err = %v", err)
	}
	if err := r.SetContentStream(ctx, repoID, id, true, content("second")); err != nil {
		t.Fatalf("SetContentStream overwrite: %v", err)
	}
	od, _ := r.GetObject(ctx, repoID, id, cmis.ObjectOptions{})
	if _, err := r.GetContentStream(ctx, repoID, id, "stale-stream", nil); !errors.Is(err, cmis.KindNotFound) {
		t.Fatalf("wrong stream id err = %v", err)
	}
	cs, err := r.GetContentStream(ctx, repoID, id, od.Properties.String(cmis.PropContentStreamID), nil)
	if err != nil {
		t.Fatalf("GetContentStream: %v", err)
	}
	if got := readAll(t, cs); got != "second" {
		t.Fatalf("content = %q", got)
	}

	if err := r.DeleteContentStream(ctx, repoID, id); err != nil {
		t.Fatalf("DeleteContentStream: %v", err)
	}
	info, _ := r.GetObjectInfo(ctx, repoID, id)
	if info.HasContent {
		t.Fatal("content should be gone")
	}
	if _, ok := info.Object.Properties[cmis.PropContentStreamLength]; ok {
		t.Fatal("content properties should be cleared")
	}
}

func TestDeleteFolder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	folderID, err := r.CreateFolder(ctx, repoID, &cmis.CreateFolderRequest{
		Properties: docProps("cmis:folder", "f"),
		FolderID:   RootFolderID,
	})
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	od, _ := r.GetObject(ctx, repoID, folderID, cmis.ObjectOptions{})
	if od.Properties.String(cmis.PropParentID) != RootFolderID {
		t.Fatalf("parentId = %q", od.Properties.String(cmis.PropParentID))
	}
	docID, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps("doc", "inside"),
		FolderID:   folderID,
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := r.DeleteObject(ctx, repoID, folderID, false); !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("non-empty folder delete err = %v", err)
	}
	if err := r.DeleteObject(ctx, repoID, RootFolderID, false); !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("root delete err = %v", err)
	}
	if err := r.DeleteObject(ctx, repoID, docID, true); err != nil {
		t.Fatalf("DeleteObject doc: %v", err)
	}
	if err := r.DeleteObject(ctx, repoID, folderID, false); err != nil {
		t.Fatalf("DeleteObject folder: %v", err)
	}
}

func TestFullStoreKeepsStoredContent(t *testing.T) {
	store, err := memory.New(2, memory.WithoutEviction())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	r := New(repoID, store, WithLogger(testlog.New(t)))
	ctx := context.Background()

	var ids []string
	for i, body := range []string{"one", "two"} {
		id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
			Properties: docProps(string(cmis.BaseTypeDocument), fmt.Sprintf("f%d.txt", i)),
			FolderID:   RootFolderID,
			Content:    content(body),
		})
		if err != nil {
			t.Fatalf("CreateDocument %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	_, err = r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps(string(cmis.BaseTypeDocument), "f2.txt"),
		FolderID:   RootFolderID,
		Content:    content("three"),
	})
	if !errors.Is(err, cmis.KindConstraint) {
		t.Fatalf("third create: want constraint, got %v", err)
	}

	for i, want := range []string{"one", "two"} {
		cs, err := r.GetContentStream(ctx, repoID, ids[i], "", nil)
		if err != nil {
			t.Fatalf("GetContentStream %d: %v", i, err)
		}
		if got := readAll(t, cs); got != want {
			t.Fatalf("content %d = %q, want %q", i, got, want)
		}
	}
}

func TestMaxContentSize(t *testing.T) {
	store, err := memory.New(10)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	r := New(repoID, store, WithLogger(testlog.New(t)), WithMaxContentSize(4))
	ctx := context.Background()

	unsized := content("12345")
	unsized.Length = cmis.UnknownLength
	for name, cs := range map[string]*cmis.ContentStream{
		"declared": content("12345"),
		"unsized":  unsized,
	} {
		_, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
			Properties: docProps(string(cmis.BaseTypeDocument), name),
			FolderID:   RootFolderID,
			Content:    cs,
		})
		if !errors.Is(err, cmis.KindConstraint) {
			t.Fatalf("%s: want constraint, got %v", name, err)
		}
	}

	id, err := r.CreateDocument(ctx, repoID, &cmis.CreateDocumentRequest{
		Properties: docProps(string(cmis.BaseTypeDocument), "small"),
		FolderID:   RootFolderID,
		Content:    content("1234"),
	})
	if err != nil {
		t.Fatalf("CreateDocument at the limit: %v", err)
	}
	cs, err := r.GetContentStream(ctx, repoID, id, "", nil)
	if err != nil {
		t.Fatalf("GetContentStream: %v", err)
	}
	if got := readAll(t, cs); got != "1234" {
		t.Fatalf("content = %q", got)
	}
}
