// Package cmis defines the value types and collaborator contracts shared by
// every binding in this module: the client-side bindings under binding/, the
// browser-binding endpoint in browser/ and the reference repository in
// repository/memrepo.
//
// The package deliberately carries only what the binding layer needs to move
// objects across the wire. It is not a complete CMIS domain model: there is no
// query language, no change log and no policy evaluation.
//
// # Logical services
//
// Every remote call is addressed to one of nine fixed LogicalService values.
// Bindings cache one connection handle per (session, service) pair.
//
// # Errors
//
// Failures are classified with a Kind. A *Error carries the kind together with
// the failing operation, and errors.Is(err, KindConsistency) (or any other
// kind) reports whether an error chain contains a failure of that kind:
//
//	obj, err := c.GetObject(ctx, id, cmis.ObjectOptions{})
//	if errors.Is(err, cmis.KindNotFound) { /* ... */ }
//	if errors.Is(err, cmis.KindConnection) { /* endpoint misconfigured */ }
package cmis
