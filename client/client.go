// Package client is a typed CMIS client over a binding.Dispatcher. It does
// not depend on the wire encoding: the session's Factory decides how calls
// travel.
//
//	sess := binding.NewSession(config.Single(url), httpjson.New())
//	defer sess.Close()
//	c := client.New(binding.NewDispatcher(sess), "repo")
//	obj, err := c.GetObject(ctx, id, cmis.ObjectOptions{})
package client

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ggoodman/cmis-bindings-go/binding"
	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client issues calls against one repository.
type Client struct {
	d    *binding.Dispatcher
	repo string
	log  *slog.Logger
}

// New returns a client for repositoryID.
func New(d *binding.Dispatcher, repositoryID string, opts ...Option) *Client {
	c := &Client{d: d, repo: repositoryID, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RepositoryID returns the repository the client talks to.
func (c *Client) RepositoryID() string { return c.repo }

func (c *Client) call(op, objectID string) *binding.Call {
	return &binding.Call{Operation: op, RepositoryID: c.repo, ObjectID: objectID}
}

func objectParams(call *binding.Call, opts cmis.ObjectOptions) {
	if opts.Filter != "" {
		call.SetParam(binding.ParamFilter, opts.Filter)
	}
	if opts.IncludeAllowableActions {
		call.SetParam(binding.ParamIncludeAllowableActions, "true")
	}
	if opts.IncludePolicyIDs {
		call.SetParam(binding.ParamIncludePolicyIDs, "true")
	}
	if opts.IncludeACL {
		call.SetParam(binding.ParamIncludeACL, "true")
	}
}

// object extracts the object of a reply. A reply without one is a
// consistency fault.
func object(op string, reply *binding.Reply) (*cmis.ObjectData, error) {
	if reply == nil || reply.Object == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, op, "reply carries no object")
	}
	return reply.Object, nil
}

// GetObject fetches objectID.
func (c *Client) GetObject(ctx context.Context, objectID string, opts cmis.ObjectOptions) (*cmis.ObjectData, error) {
	call := c.call(binding.OpGetObject, objectID)
	objectParams(call, opts)
	reply, err := c.d.Do(ctx, cmis.ObjectService, call)
	if err != nil {
		return nil, err
	}
	return object(call.Operation, reply)
}

// GetObjectOfLatestVersion fetches the latest version, or the latest major
// version, of the series objectID belongs to.
func (c *Client) GetObjectOfLatestVersion(ctx context.Context, objectID string, major bool, opts cmis.ObjectOptions) (*cmis.ObjectData, error) {
	call := c.call(binding.OpGetObjectOfLatestVersion, objectID)
	objectParams(call, opts)
	call.SetParam(binding.ParamMajor, strconv.FormatBool(major))
	reply, err := c.d.Do(ctx, cmis.VersioningService, call)
	if err != nil {
		return nil, err
	}
	return object(call.Operation, reply)
}

// CreateDocument creates a document and returns it as the server reports
// it. The request content, if any, is consumed and closed.
func (c *Client) CreateDocument(ctx context.Context, req *cmis.CreateDocumentRequest) (*cmis.ObjectData, error) {
	call := c.call(binding.OpCreateDocument, "")
	call.Properties = req.Properties
	call.Policies = req.Policies
	call.AddACEs = req.AddACEs
	call.Content = req.Content
	if req.FolderID != "" {
		call.SetParam(binding.ParamFolderID, req.FolderID)
	}
	if req.VersioningState != "" {
		call.SetParam(binding.ParamVersioningState, string(req.VersioningState))
	}
	return c.create(ctx, call)
}

// CreateFolder creates a folder below req.FolderID.
func (c *Client) CreateFolder(ctx context.Context, req *cmis.CreateFolderRequest) (*cmis.ObjectData, error) {
	call := c.call(binding.OpCreateFolder, "")
	call.Properties = req.Properties
	call.Policies = req.Policies
	call.AddACEs = req.AddACEs
	call.SetParam(binding.ParamFolderID, req.FolderID)
	return c.create(ctx, call)
}

func (c *Client) create(ctx context.Context, call *binding.Call) (*cmis.ObjectData, error) {
	reply, err := c.d.Do(ctx, cmis.ObjectService, call)
	if err != nil {
		return nil, err
	}
	obj, err := object(call.Operation, reply)
	if err != nil {
		return nil, err
	}
	if obj.ID() == "" {
		return nil, cmis.Errorf(cmis.KindConsistency, call.Operation, "created object has no id")
	}
	c.log.DebugContext(ctx, "client.create.ok", slog.String("object_id", obj.ID()))
	return obj, nil
}

// GetContentStream opens the content of objectID. A non-nil rng asks for a
// byte range; the returned stream holds only that range and Length reports
// the complete size when the server knows it. The caller must close the
// stream.
func (c *Client) GetContentStream(ctx context.Context, objectID string, rng *cmis.ByteRange) (*cmis.ContentStream, error) {
	call := c.call(binding.OpGetContentStream, objectID)
	call.Range = rng
	reply, err := c.d.Do(ctx, cmis.ObjectService, call)
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.Content == nil || reply.Content.Stream == nil {
		return nil, cmis.Errorf(cmis.KindConsistency, call.Operation, "reply carries no content stream")
	}
	return reply.Content, nil
}

// SetContentStream replaces or adds the content of objectID. With overwrite
// false an existing stream makes the call fail with KindConstraint.
func (c *Client) SetContentStream(ctx context.Context, objectID string, overwrite bool, content *cmis.ContentStream) error {
	call := c.call(binding.OpSetContentStream, objectID)
	call.Content = content
	call.SetParam(binding.ParamOverwrite, strconv.FormatBool(overwrite))
	_, err := c.d.Do(ctx, cmis.ObjectService, call)
	return err
}

// DeleteContentStream removes the content of objectID.
func (c *Client) DeleteContentStream(ctx context.Context, objectID string) error {
	_, err := c.d.Do(ctx, cmis.ObjectService, c.call(binding.OpDeleteContentStream, objectID))
	return err
}

// DeleteObject deletes objectID, or its whole version series when
// allVersions is set.
func (c *Client) DeleteObject(ctx context.Context, objectID string, allVersions bool) error {
	call := c.call(binding.OpDeleteObject, objectID)
	call.SetParam(binding.ParamAllVersions, strconv.FormatBool(allVersions))
	_, err := c.d.Do(ctx, cmis.ObjectService, call)
	return err
}
