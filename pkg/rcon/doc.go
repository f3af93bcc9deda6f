// Package rcon implements a minimal client for the Source RCON protocol
// that Minecraft servers and proxies speak on their configured RCON port.
// Every call opens a fresh connection, authenticates, issues one command,
// reads the reply, and closes (C4); no connection pooling is required for
// correctness.
package rcon
