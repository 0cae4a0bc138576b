// Package sensor bridges UDP datagrams from field fire sensors into the relay
// hub. The receive loop runs on its own goroutine and hands decoded events to
// the hub through thread-safe, fire-and-forget submissions.
package sensor
