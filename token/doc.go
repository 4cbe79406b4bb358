// Package token inspects and issues JWT access tokens.
//
// Clients use [Inspect] and [ExpiresWithin] to read the exp claim of an access
// token without verifying its signature; the token is only used to decide when
// to refresh early, never to authorize anything. Opaque (non-JWT) tokens
// report [ErrNotJWT] and are simply never refreshed early.
//
// [Issuer] mints and verifies signed access tokens. It backs the in-process
// fake API used by tests and tooling.
package token
