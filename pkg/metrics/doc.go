// Package metrics exposes fleetmc's Prometheus instrumentation:
// instance counts by kind/status, resource sampler and proxy probe
// gauges, scheduler and backup counters, webhook delivery outcomes, and
// the host-wide system snapshot. Gauge-shaped metrics that track the
// registry/scheduler/event-bus state are refreshed on a periodic
// Collector; counters and histograms tied to a discrete event (a crash,
// a fired task, a webhook POST) are registered and exported, but no code
// in this module increments or observes them. health.go additionally exposes liveness/readiness/health HTTP
// handlers independent of the Prometheus registry.
package metrics
