/*
Package registry is the durable catalog of managed instances: C1 in the
control-plane design. It owns identifier allocation, workspace provisioning
(delegating config generation to pkg/configwriter), owner-scoped access
checks, and whole-file JSON persistence of servers.json.

Registry is the single source of truth for Instance rows; pkg/supervisor
mutates it on lifecycle transitions but never bypasses it.
*/
package registry
