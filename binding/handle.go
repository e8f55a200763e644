package binding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// Operation names understood by the handles in this module.
const (
	OpGetObject                = "getObject"
	OpGetObjectOfLatestVersion = "getObjectOfLatestVersion"
	OpGetContentStream         = "getContentStream"
	OpCreateDocument           = "createDocument"
	OpCreateFolder             = "createFolder"
	OpSetContentStream         = "setContentStream"
	OpDeleteContentStream      = "deleteContentStream"
	OpDeleteObject             = "deleteObject"
)

// Call parameter names. Bindings translate them to their own wire names.
const (
	ParamFolderID                = "folderId"
	ParamStreamID                = "streamId"
	ParamFilter                  = "filter"
	ParamIncludeAllowableActions = "includeAllowableActions"
	ParamIncludePolicyIDs        = "includePolicyIds"
	ParamIncludeACL              = "includeACL"
	ParamVersioningState         = "versioningState"
	ParamAllVersions             = "allVersions"
	ParamOverwrite               = "overwriteFlag"
	ParamMajor                   = "major"
	ParamTransaction             = "transaction"
)

// Handle performs calls for exactly one logical service. Handles are built
// once per session and service and must be safe for concurrent use.
type Handle interface {
	Service() cmis.LogicalService
	URL() string
	Do(ctx context.Context, call *Call) (*Reply, error)
}

// EnvelopeCarrier is implemented by handles whose wire format carries a
// protocol header inside the message body. The dispatcher asks the
// auth.Provider for a protocol header only for such handles.
type EnvelopeCarrier interface {
	Handle
	CarriesEnvelope()
}

// Factory builds handles for one wire encoding. Build validates endpoint and
// prepares the transport; it never performs a business call.
type Factory interface {
	Build(ctx context.Context, svc cmis.LogicalService, endpoint string) (Handle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, svc cmis.LogicalService, endpoint string) (Handle, error)

func (f FactoryFunc) Build(ctx context.Context, svc cmis.LogicalService, endpoint string) (Handle, error) {
	return f(ctx, svc, endpoint)
}

// Call is one remote operation. Params holds operation arguments that are not
// modelled by a dedicated field (filter, returnVersion, allVersions,
// overwrite, versioningState, folderId, ...).
type Call struct {
	Operation    string
	RepositoryID string
	ObjectID     string
	Params       map[string]string
	Properties   cmis.Properties
	Policies     []string
	AddACEs      []cmis.ACE
	Content      *cmis.ContentStream
	Range        *cmis.ByteRange

	// Header and ProtocolHeader are filled by the Dispatcher from the
	// session's auth.Provider.
	Header         http.Header
	ProtocolHeader auth.ProtocolHeader
}

// Param returns Params[key] or "".
func (c *Call) Param(key string) string {
	if c.Params == nil {
		return ""
	}
	return c.Params[key]
}

// SetParam sets Params[key], allocating the map on first use.
func (c *Call) SetParam(key, value string) {
	if c.Params == nil {
		c.Params = make(map[string]string)
	}
	c.Params[key] = value
}

// Reply is the decoded response to a Call. Content, when set, must be closed
// by the caller.
type Reply struct {
	StatusCode int
	Header     http.Header
	ObjectID   string
	Object     *cmis.ObjectData
	Content    *cmis.ContentStream
}

// StatusError is returned by handles when the remote side answered with a
// failure status. It carries the response metadata so the dispatcher can
// report it to the auth.Provider, and matches the remote error kind.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Kind       cmis.Kind
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cmis %s: remote status %d", e.Kind.String(), e.StatusCode)
	}
	return fmt.Sprintf("cmis %s: remote status %d: %s", e.Kind.String(), e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	k, ok := target.(cmis.Kind)
	return ok && k == e.Kind
}

// KindForStatus guesses an error kind from an HTTP status when the response
// body names none.
func KindForStatus(status int) cmis.Kind {
	switch status {
	case http.StatusBadRequest:
		return cmis.KindMalformedRequest
	case http.StatusNotFound:
		return cmis.KindNotFound
	case http.StatusConflict:
		return cmis.KindConstraint
	case http.StatusUnauthorized, http.StatusForbidden:
		return cmis.KindConnection
	default:
		return cmis.KindRuntime
	}
}

// StatusForKind is the inverse of KindForStatus, used by server endpoints to
// report a failure of the given kind.
func StatusForKind(kind cmis.Kind) int {
	switch kind {
	case cmis.KindMalformedRequest:
		return http.StatusBadRequest
	case cmis.KindNotFound:
		return http.StatusNotFound
	case cmis.KindConstraint:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
