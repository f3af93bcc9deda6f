/*
Package supervisor is the process lifecycle manager: C3 in the
control-plane design. It spawns and stops the java child process backing
each running Instance, owns the in-memory runtime process table, reaps
exits, scans stdout for TPS and player-join/leave events, and serializes
every lifecycle transition per instance.

Cyclic collaboration with pkg/topology (cascaded proxy/backend lifecycle)
and pkg/sampler (resource sampling start/stop) is broken by the
ProxyCoordinator and Sampler interfaces defined here; main wires the
concrete implementations together.
*/
package supervisor
