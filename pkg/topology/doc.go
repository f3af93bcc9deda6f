// Package topology implements the Topology Coordinator (C6): reading and
// rewriting a proxy's on-disk backend list (config.yml for the bungee
// family, velocity.toml for velocity), adopting newly created backend
// instances behind a proxy, and cascading start/stop across a proxy and its
// backends.
//
// It sits on the opposite side of pkg/supervisor's ProxyCoordinator port: the
// supervisor calls into a Coordinator during a proxy's Start/Stop, and the
// Coordinator calls back into the supervisor (through the narrower
// ProcessController port) to cascade to backend instances. Neither package
// imports the other's concrete type, only the interfaces, so main wires the
// two together after both are constructed.
package topology
