// Package sampler is the resource sampler (C5): a 2-second per-PID
// CPU/RSS sampling loop per running instance, fed the latest TPS value
// parsed by pkg/supervisor's stdout scanner, plus an on-demand synchronous
// system-wide stats snapshot. Built on gopsutil so CPU/memory/disk reads
// work the same across the host OSes fleetmc targets.
package sampler
