// Package otel publishes gameauth engine counters through an OpenTelemetry Meter.
//
// Engine counters share one observable counter, gameauth.auth.events, with
// flow and event attributes (flow=login, event=success). Deletion latency is
// published as cumulative bucket gauges keyed by le. One callback reads the
// engine snapshot per collection; callers own the MeterProvider.
package otel
