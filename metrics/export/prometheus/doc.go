// Package prometheus exposes gameauth engine metrics as a
// prometheus.Collector.
//
// Counters are published as gameauth_*_total and the deletion latency as the
// gameauth_deletion_latency_seconds histogram. The collector never registers
// itself globally; mount Handler or register it with your own registry.
package prometheus
