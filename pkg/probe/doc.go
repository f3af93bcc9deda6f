// Package probe implements the Proxy Probe (C7): for every running proxy
// instance, a 30s ticker (immediate first tick) re-reads the proxy's
// backend list from disk and performs a bounded TCP handshake against each
// edge, caching online/latency results and publishing them on the proxy's
// status topic. A separate on-demand RCON glist call derives player
// censuses without waiting for the next tick.
package probe
