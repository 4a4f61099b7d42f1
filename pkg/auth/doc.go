// Package auth verifies HS256 bearer tokens issued by the identity service and
// exposes the caller's Identity to handlers.
//
// Tokens carry the user id in "sub" and the role claim in "role":
//
//	verifier, err := auth.NewVerifier(cfg)
//	r.With(auth.Middleware(verifier)).Get("/entitlement", h)
//
//	id, ok := auth.IdentityFromContext(r.Context())
//
// Issue signs tokens with the same secret; it is meant for tooling and tests.
package auth
