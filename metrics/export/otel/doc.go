// Package otel exports webfront metrics as OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and
// Int64ObservableGauge per histogram bucket; a single callback reads a
// metrics snapshot on each collection cycle. The caller owns the Meter.
package otel
