// Package internal contains helpers that are private to authclient:
// request identifier generation and token fingerprints for log lines.
//
// # What this package must NOT do
//
//   - Export types that appear in the public authclient API.
//   - Be imported by any package outside the authclient module.
package internal
