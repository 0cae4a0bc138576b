// Package ws exposes the client and admin WebSocket endpoints. Each accepted
// socket gets a read-pump goroutine that forwards inbound frames to the relay
// hub; all outbound writes happen on the hub goroutine.
package ws
