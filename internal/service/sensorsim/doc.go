// Package sensorsim sends hand-crafted sensor datagrams to a running relay.
// It stands in for the ESP8266 field hardware during development and demos.
package sensorsim
