package internaldefs

import (
	"github.com/MrEthical07/authclient"
)

// CounterDef names one client counter for exporters.
type CounterDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// HistogramDef names one client latency histogram for exporters.
type HistogramDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authclient.MetricRequest, Name: "authclient_requests_total", Help: "HTTP exchanges attempted, replays included."},
	{ID: authclient.MetricRequestFailure, Name: "authclient_request_failures_total", Help: "Exchanges that produced an API error."},
	{ID: authclient.MetricNetworkError, Name: "authclient_network_errors_total", Help: "Exchanges that failed without a response."},
	{ID: authclient.MetricUnauthorized, Name: "authclient_unauthorized_total", Help: "401 responses received."},
	{ID: authclient.MetricRefreshStarted, Name: "authclient_refresh_started_total", Help: "Refresh flights started."},
	{ID: authclient.MetricRefreshSuccess, Name: "authclient_refresh_success_total", Help: "Refresh flights that stored a new access token."},
	{ID: authclient.MetricRefreshFailure, Name: "authclient_refresh_failure_total", Help: "Refresh flights that fell back to guest mode."},
	{ID: authclient.MetricRefreshCoalesced, Name: "authclient_refresh_coalesced_total", Help: "Callers that joined a refresh already in progress."},
	{ID: authclient.MetricReplayAuthenticated, Name: "authclient_replay_authenticated_total", Help: "Replays sent with a refreshed token."},
	{ID: authclient.MetricReplayGuest, Name: "authclient_replay_guest_total", Help: "Replays sent without credentials."},
	{ID: authclient.MetricStaleTokenReplay, Name: "authclient_stale_token_replay_total", Help: "401s answered by replaying with a newer stored token."},
	{ID: authclient.MetricProactiveRefresh, Name: "authclient_proactive_refresh_total", Help: "Requests that refreshed before their first send."},
	{ID: authclient.MetricLogin, Name: "authclient_login_total", Help: "Successful logins."},
	{ID: authclient.MetricLoginFailure, Name: "authclient_login_failure_total", Help: "Failed logins."},
	{ID: authclient.MetricLogout, Name: "authclient_logout_total", Help: "Session clears, explicit or after a failed refresh."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authclient.MetricRequestLatency, Name: "authclient_request_latency_seconds", Help: "Per-exchange latency."},
	{ID: authclient.MetricRefreshLatency, Name: "authclient_refresh_latency_seconds", Help: "Per-flight refresh latency."},
}

// DroppedEventsName is the counter for events dropped under backpressure.
const (
	DroppedEventsName = "authclient_events_dropped_total"
	DroppedEventsHelp = "Dropped client events due to dispatcher backpressure."
)

// HistogramUpperBounds are the bucket upper bounds in seconds, +Inf excluded.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
