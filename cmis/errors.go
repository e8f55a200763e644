package cmis

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. A Kind is itself an error so that it can be used
// as the target of errors.Is.
type Kind int

const (
	// KindRuntime is an unclassified failure inside a collaborator.
	KindRuntime Kind = iota
	// KindConnection means endpoint configuration is missing or invalid, or a
	// connection handle could not be built.
	KindConnection
	// KindConsistency means a collaborator returned nothing where its contract
	// guarantees a value. It is a server-side fault.
	KindConsistency
	// KindTransfer means reading or writing a content stream failed.
	KindTransfer
	// KindAuthProvider is a failure inside an auth provider. The dispatcher
	// logs and swallows these; they never reach callers.
	KindAuthProvider
	// KindMalformedRequest means required parameters were missing or invalid.
	KindMalformedRequest
	// KindNotFound means the addressed object does not exist.
	KindNotFound
	// KindConstraint means the operation violates a repository constraint,
	// e.g. creating a document in a non-folder.
	KindConstraint
)

var kindNames = map[Kind]string{
	KindRuntime:          "runtime",
	KindConnection:       "connection",
	KindConsistency:      "consistency",
	KindTransfer:         "transfer",
	KindAuthProvider:     "authProvider",
	KindMalformedRequest: "invalidArgument",
	KindNotFound:         "objectNotFound",
	KindConstraint:       "constraint",
}

// String returns the wire name of the kind. Names follow the CMIS exception
// vocabulary where one exists.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string { return "cmis: " + k.String() }

// ParseKind maps a wire name back to a Kind. Unknown names map to KindRuntime.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindRuntime
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "createDocument"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("cmis %s: %s: %s", e.Kind.String(), e.Op, msg)
	}
	return fmt.Sprintf("cmis %s: %s", e.Kind.String(), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds a classified error with a formatted message. A %w verb in
// format keeps the wrapped error reachable through Unwrap.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: errors.Unwrap(err)}
}

// Wrap classifies err with kind unless it is already classified, in which case
// it is returned unchanged. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) || KindOf(err) != KindRuntime {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Other errors
// that match a Kind under errors.Is report that kind; everything else is
// KindRuntime.
func KindOf(err error) Kind {
	if err == nil {
		return KindRuntime
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for k := range kindNames {
		if k != KindRuntime && errors.Is(err, k) {
			return k
		}
	}
	return KindRuntime
}
