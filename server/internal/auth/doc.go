// Package auth authenticates REST, gRPC and WebSocket callers of
// wardwatch-server.
//
// Three modes are supported:
//
//	none    every caller is allowed; no principal is attached.
//	apikey  callers present a shared key in a configurable header.
//	jwt     callers present an HS256 bearer token whose claims carry the
//	        responder identity, role and allowed hospitals.
//
// Tokens are normally minted by the identity provider; JWTVerifier.Sign exists
// for operators and tests (see "wardwatch-server token"). A verified
// Principal travels in the request context; handlers read it with FromContext.
package auth
