// Package app wires configuration, storage, telemetry and event publishing
// into a ready engine, decoupled from any specific entrypoint like a CLI or
// server.
package app
