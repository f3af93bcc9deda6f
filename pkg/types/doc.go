/*
Package types defines the core data structures shared across fleetmc.

These are the domain types every other package operates on: the managed
Instance (game server or proxy), its runtime process handle, backend edges
derived from proxy configuration, scheduled tasks and their execution
records, and webhook subscriptions. All persisted types round-trip through
JSON; runtime-only types (ProcessHandle) never do.
*/
package types
