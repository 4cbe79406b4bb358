// Package session provides durable storage for the client's credential pair
// (access token, refresh token) and the collaborator-owned user payload.
//
// # Backends
//
//   - [MemoryStore]: process-local, the default.
//   - [FileStore]: a JSON file written via temp file + rename, optionally
//     sealed with a passphrase.
//   - [RedisStore]: three keys (authToken, refreshToken, user) written in one
//     transaction and cleared with one DEL.
//   - [PostgresStore]: one row per client namespace.
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT decide when a session is
// replaced or cleared; the authclient refresh coordinator is the single writer.
//
// # What this package must NOT do
//
//   - Import authclient (no upward imports).
//   - Perform HTTP calls or interpret tokens.
//   - Expose partially written sessions: Save and Clear are atomic per backend.
package session
