// Package otel publishes authclient counters through an OpenTelemetry Meter.
//
// Related counters share one instrument and are told apart by an attribute:
// authclient.refreshes{outcome=rotated|coalesced|already_rotated|...},
// authclient.requests{result}, authclient.retries{decision} and
// authclient.session.ends{cause}. Request latency is exposed as cumulative
// bucket gauges labelled le. Two ratio gauges summarize refresh health: how
// much refresh demand was absorbed without a network call, and how many
// refresh calls succeeded.
//
// A single callback reads [authclient.Client.MetricsSnapshot] on each
// collection cycle. The caller owns the MeterProvider.
package otel
