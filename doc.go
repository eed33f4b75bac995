// Package authclient provides the authenticated HTTP client used by every module of
// the learning platform frontend: it attaches bearer tokens and request IDs to each
// outgoing request, transparently refreshes an expired access token once per failure,
// coalesces concurrent refreshes into a single in-flight call, and retries transient
// failures with bounded exponential backoff.
//
// The package is designed for concurrent use: [Client] methods are safe to call from
// multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authclient is the public surface. It exposes [Client], [Builder], [Config], [EventBus]
// and value types (Request, Response, Event, MetricsSnapshot). Credential persistence
// lives in credstore, cross-process refresh locking in lock, and metric exporters
// under metrics/export.
//
// Session lifecycle is surfaced only through events: a session-state owner subscribes
// to [EventLogout] and [EventTokenRefreshed] on the [EventBus]; the client never holds a
// reference to it.
//
// # What this package must NOT do
//
//   - Cache credentials across requests outside the credential store.
//   - Issue more than one refresh call for a burst of concurrent 401 responses.
//   - Surface retries or refreshes to callers: a request either succeeds or fails once.
//   - Use package-level mutable state (the refresh slot and event bus are injected).
package authclient
