// Package emergency holds the domain types of the fire-relay system: the
// stable client identity, the process-wide alarm state, the JSON wire payloads
// exchanged with client and admin sockets, and decoded sensor events.
package emergency
