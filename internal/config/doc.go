// Package config defines the fire-relay server settings and provides helpers
// to load, validate and save them in YAML format.
package config
