// Package registry tracks live client and admin connections, binds transient
// connection handles to stable identities and keeps the per-identity state
// (display name, push token, last status) that must be pruned on disconnect.
package registry
