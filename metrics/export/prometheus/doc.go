// Package prometheus renders webfront metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads from a webfront.Service and exposes an
// http.Handler. Counter names are prefixed webfront_*_total; the single
// histogram is webfront_auth_read_latency_seconds. Nothing registers in
// a global registry; callers mount the Handler themselves.
package prometheus
