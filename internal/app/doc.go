// Package app wires application dependencies for the CLI.
//
// Config is read from YAML (LoadConfig) and overridden by command flags.
// NewWire builds the concrete stores, transports and services from it and
// exposes them through the Wire struct; App adds the one-time, awaited
// initialisation of the data directory, sample document and trust points.
package app
