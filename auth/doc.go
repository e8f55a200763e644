// Package auth carries credentials in both directions of a CMIS exchange.
//
// On the client side a Provider is consulted around every remote call made
// through the binding package: it supplies transport headers and, for
// envelope-style bindings, a protocol header before the call, and observes
// the response status and headers after it. Standard sends basic credentials
// and keeps session cookies, TokenSource sends OAuth 2.0 bearer tokens, and
// SignedAssertion mints short-lived JWTs per endpoint.
//
// On the server side an Authenticator validates the bearer token presented to
// the browser endpoint and returns a UserInfo.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://cmis.example/browser",
//	    auth.WithRequiredScopes("cmis:write"),
//	)
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 */ }
//	if errors.Is(err, auth.ErrInsufficientScope) { /* 403 */ }
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s).
package auth
