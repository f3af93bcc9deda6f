/*
Package configwriter generates the on-disk configuration for a newly
provisioned Instance and rewrites it for the composite topology operations
in pkg/topology: C2 in the control-plane design.

One function per kind. Game-server kinds get server.properties plus
eula.txt; BungeeCord/Waterfall get a YAML config.yml; Velocity gets a TOML
velocity.toml. Every file is overwritten wholesale on create — configs are
never merged on first write.
*/
package configwriter
