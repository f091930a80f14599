package internaldefs

import (
	webfront "github.com/webfront-go/webfront"
)

// CounterDef binds a metric id to its exposition name and help text.
type CounterDef struct {
	ID   webfront.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram id to its exposition name and help text.
type HistogramDef struct {
	ID   webfront.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter, in exposition order.
var CounterDefs = []CounterDef{
	{ID: webfront.MetricLoginSuccess, Name: "webfront_login_success_total", Help: "Successful login attempts."},
	{ID: webfront.MetricLoginFailure, Name: "webfront_login_failure_total", Help: "Failed login attempts."},
	{ID: webfront.MetricLoginRateLimited, Name: "webfront_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: webfront.MetricLoginWhileImpersonation, Name: "webfront_login_while_impersonation_total", Help: "Logins rejected because an impersonation was active."},
	{ID: webfront.MetricRelogin, Name: "webfront_relogin_total", Help: "Silent identity switches on login."},
	{ID: webfront.MetricDirectLoginRejected, Name: "webfront_direct_login_rejected_total", Help: "Direct logins denied by the allow service."},
	{ID: webfront.MetricRefreshSuccess, Name: "webfront_refresh_success_total", Help: "Refresh operations."},
	{ID: webfront.MetricRefreshRateLimited, Name: "webfront_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: webfront.MetricRefreshRevoked, Name: "webfront_refresh_revoked_total", Help: "Sessions revoked by the backend identity re-read."},
	{ID: webfront.MetricSlidingRenewal, Name: "webfront_sliding_renewal_total", Help: "Sliding expiration extensions."},
	{ID: webfront.MetricImpersonationStarted, Name: "webfront_impersonation_started_total", Help: "Started impersonations."},
	{ID: webfront.MetricImpersonationCleared, Name: "webfront_impersonation_cleared_total", Help: "Cleared impersonations."},
	{ID: webfront.MetricImpersonationForbidden, Name: "webfront_impersonation_forbidden_total", Help: "Refused impersonation attempts."},
	{ID: webfront.MetricLogout, Name: "webfront_logout_total", Help: "Logouts clearing the safe cookie."},
	{ID: webfront.MetricLogoutFull, Name: "webfront_logout_full_total", Help: "Full logouts also clearing the long-term cookie."},
	{ID: webfront.MetricTokenInvalid, Name: "webfront_token_invalid_total", Help: "Credentials that failed to unprotect."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: webfront.MetricAuthReadLatency, Name: "webfront_auth_read_latency_seconds", Help: "Credential read latency histogram."},
}

// HistogramBounds are the upper bounds of the 8 fixed buckets, as
// exposition labels.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix gives each bound a name-safe suffix for
// per-bucket gauge naming.
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

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// 8-bucket shape.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the cumulative form
// Prometheus histograms expose.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
