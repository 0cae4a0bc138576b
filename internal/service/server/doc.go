// Package server runs the fire-relay service: the single-goroutine relay hub
// that owns the connection registry, broadcast engine and alarm state machine,
// plus the process wiring that starts the HTTP/WebSocket surface and the UDP
// sensor bridge around it.
package server
