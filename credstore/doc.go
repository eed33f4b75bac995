// Package credstore provides durable persistence for the client's credential set.
//
// # Components
//
//   - [Credentials]: access token, refresh token, token type and expiry.
//   - [Backend]: error-returning persistence medium (memory, file, encrypted file,
//     Redis, SQLite).
//   - [Store]: the no-error facade used by the client: every backend failure is
//     swallowed, logged and reported, and reads degrade to "absent".
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT refresh tokens, emit session
// events or decide when credentials are cleared; those responsibilities belong to
// the client and its refresh coordinator.
//
// # What this package must NOT do
//
//   - Perform network calls other than those a Redis backend needs to persist.
//   - Import authclient or any sibling package (no upward imports).
//   - Return an error from [Store] methods.
package credstore
