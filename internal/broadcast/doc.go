// Package broadcast implements best-effort fan-out delivery of one message to
// a set of connections, reporting per-recipient outcomes and pruning failed
// connections from the registry.
package broadcast
