package auth

import (
	"net/http"

	"github.com/ggoodman/cmis-bindings-go/cmis"
)

// StatusNoResponse is the status code handed to Provider.InboundMetadata
// when a call failed before any response was received.
const StatusNoResponse = 0

// Endpoint identifies the connection a call is made through. Connection
// handles from the binding package satisfy it.
type Endpoint interface {
	Service() cmis.LogicalService
	URL() string
}

// ProtocolHeader is a structured header carried inside the message body by
// envelope-style bindings. It must be encodable by the binding's codec.
type ProtocolHeader map[string]any

// Provider supplies outbound credentials and observes inbound response
// metadata for every remote call, whichever binding is in use.
//
// Implementations must be safe for concurrent use. Calls for different
// requests may interleave; an implementation must not assume that an
// InboundMetadata call pairs with the most recent OutboundMetadata call.
type Provider interface {
	// OutboundMetadata returns transport headers to attach to a call to
	// targetURL, or nil to attach nothing.
	OutboundMetadata(targetURL string) http.Header

	// OutboundProtocolHeader returns an envelope header for bindings that
	// carry credentials inside the message, or nil.
	OutboundProtocolHeader(ep Endpoint) ProtocolHeader

	// InboundMetadata is delivered after every call, successful or not.
	// statusCode is StatusNoResponse when no response was received. Returned
	// errors are logged by the caller and never alter the call's outcome.
	InboundMetadata(targetURL string, statusCode int, header http.Header) error
}
