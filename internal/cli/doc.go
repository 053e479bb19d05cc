// Package cli defines the Cobra command tree for the ocmodctl CLI. Each file
// in this package registers one top-level command (install-module, deploy,
// serve, etc.) with the root command. Commands delegate to internal packages
// for the work and only handle flags, wiring and output.
package cli
