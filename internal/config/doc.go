// Package config defines the settings shared by the alarm-bridge binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills in defaults, so a zero Config describes an observer with an
// in-memory alarm source listening on DefaultServerAddress.
package config
