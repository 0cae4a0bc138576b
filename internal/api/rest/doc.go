// Package rest wires the administrative HTTP surface: login check, alarm
// trigger/clear/broadcast endpoints, the status query, the PWA subscription
// stub and static page serving. Each endpoint maps 1:1 to a relay operation.
package rest
