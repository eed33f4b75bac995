// Package prometheus exposes authclient metrics as a prometheus.Collector.
//
// [NewCollector] reads a client's snapshot on every scrape. Counter names are
// prefixed authclient_*_total; the single histogram is
// authclient_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers register the
//     Collector or mount Handler.
//   - Mutate client state.
package prometheus
