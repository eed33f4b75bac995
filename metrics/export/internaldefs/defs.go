package internaldefs

import (
	"github.com/MrEthical07/authclient"
)

// CounterDef names one client counter.
type CounterDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram.
type HistogramDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authclient.MetricRequestSuccess, Name: "authclient_request_success_total", Help: "Requests that returned a 2xx response."},
	{ID: authclient.MetricRequestFailure, Name: "authclient_request_failure_total", Help: "Requests that ended in a rejection."},
	{ID: authclient.MetricRetryScheduled, Name: "authclient_retry_scheduled_total", Help: "Retries scheduled after a transient failure."},
	{ID: authclient.MetricRetryExhausted, Name: "authclient_retry_exhausted_total", Help: "Requests that ran out of retry budget."},
	{ID: authclient.MetricRefreshStarted, Name: "authclient_refresh_started_total", Help: "Refresh cycles started."},
	{ID: authclient.MetricRefreshSuccess, Name: "authclient_refresh_success_total", Help: "Refresh calls that rotated credentials."},
	{ID: authclient.MetricRefreshFailure, Name: "authclient_refresh_failure_total", Help: "Refresh calls that failed."},
	{ID: authclient.MetricRefreshNoToken, Name: "authclient_refresh_no_token_total", Help: "Refresh cycles without a stored refresh token."},
	{ID: authclient.MetricRefreshCoalesced, Name: "authclient_refresh_coalesced_total", Help: "Callers that joined an in-flight refresh."},
	{ID: authclient.MetricRefreshSkippedStale, Name: "authclient_refresh_skipped_stale_total", Help: "Refresh calls skipped because credentials were already rotated."},
	{ID: authclient.MetricForcedLogout, Name: "authclient_forced_logout_total", Help: "Sessions ended by the client."},
	{ID: authclient.MetricManualLogout, Name: "authclient_manual_logout_total", Help: "Sessions ended by Logout."},
	{ID: authclient.MetricAuthEndpointRejected, Name: "authclient_auth_endpoint_rejected_total", Help: "401 responses from auth endpoints."},
	{ID: authclient.MetricCredentialStoreError, Name: "authclient_credential_store_error_total", Help: "Swallowed credential backend failures."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authclient.MetricRequestLatency, Name: "authclient_request_latency_seconds", Help: "End-to-end request latency including retries and refresh."},
}

// HistogramBounds are the upper bounds in Prometheus label form.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramUpperBounds are the finite upper bounds in seconds.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// EventHandlerFailuresName is the counter for recovered event handler panics.
const EventHandlerFailuresName = "authclient_event_handler_failures_total"

// EventHandlerFailuresHelp describes EventHandlerFailuresName.
const EventHandlerFailuresHelp = "Event handler deliveries that panicked."

// NormalizeBuckets copies raw into a fixed array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
