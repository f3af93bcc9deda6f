/*
Package events provides fleetmc's in-memory, topic-keyed event bus.

# Architecture

	┌─────────────────────── EVENT BUS ────────────────────────┐
	│  Publisher → publish channel (buffer 256) → broadcast loop │
	│         → per-subscriber channel (buffer 64, drop-oldest)  │
	└────────────────────────────────────────────────────────────┘

Topics in use:
  - server.<id>.console   — stdout/stderr lines, in emission order
  - server.<id>.status    — status transitions with optional exit code
  - server.<id>.resource  — CPU/RSS/TPS samples
  - proxy.<id>.status     — backend edge liveness set
  - system.stats          — global host resource snapshot (rarely published;
    mostly served synchronously on demand by the sampler)

Delivery is per-topic FIFO. Cross-topic ordering is not guaranteed, and a
subscriber lagging behind drops its own oldest queued event rather than
stall the broadcast loop for everyone else.
*/
package events
