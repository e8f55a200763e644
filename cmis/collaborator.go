package cmis

import "context"

// TypeProvider resolves type definitions. Implementations must be safe for
// concurrent use; results may be cached per request.
type TypeProvider interface {
	GetTypeDefinition(ctx context.Context, repositoryID, typeID string) (*TypeDefinition, error)
}

// CreateDocumentRequest carries the arguments of createDocument.
type CreateDocumentRequest struct {
	Properties      Properties
	FolderID        string
	Content         *ContentStream
	VersioningState VersioningState
	Policies        []string
	AddACEs         []ACE
	RemoveACEs      []ACE
}

// CreateFolderRequest carries the arguments of createFolder.
type CreateFolderRequest struct {
	Properties Properties
	FolderID   string
	Policies   []string
	AddACEs    []ACE
	RemoveACEs []ACE
}

// Service is the repository-side call surface the server endpoint dispatches
// to. Implementations return *Error values (or wrap errors with a Kind) so the
// endpoint can tell client mistakes from server faults.
type Service interface {
	TypeProvider

	CreateDocument(ctx context.Context, repositoryID string, req *CreateDocumentRequest) (string, error)
	CreateFolder(ctx context.Context, repositoryID string, req *CreateFolderRequest) (string, error)

	// GetObjectInfo returns extended metadata for an object. A nil info with a
	// nil error is a contract violation the caller must treat as a
	// consistency fault.
	GetObjectInfo(ctx context.Context, repositoryID, objectID string) (*ObjectInfo, error)

	GetObject(ctx context.Context, repositoryID, objectID string, opts ObjectOptions) (*ObjectData, error)
	GetObjectOfLatestVersion(ctx context.Context, repositoryID, objectID string, major bool, opts ObjectOptions) (*ObjectData, error)

	// GetContentStream returns the content of an object. When rng is non-nil
	// the returned stream is already positioned and capped to the range.
	GetContentStream(ctx context.Context, repositoryID, objectID, streamID string, rng *ByteRange) (*ContentStream, error)
	SetContentStream(ctx context.Context, repositoryID, objectID string, overwrite bool, content *ContentStream) error
	DeleteContentStream(ctx context.Context, repositoryID, objectID string) error

	DeleteObject(ctx context.Context, repositoryID, objectID string, allVersions bool) error
}

// CallContext describes the caller of a server-side operation.
type CallContext struct {
	RepositoryID string
	User         string
	RequestID    string
}

type callContextKey struct{}

// WithCallContext attaches cc to ctx.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the call context attached to ctx, or nil.
func CallContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey{}).(*CallContext)
	return cc
}
