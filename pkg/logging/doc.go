// Package logging provides structured logging for cfs-config-util built on
// Go's standard slog package.
//
// All log entries carry a subsystem identifier so output from the API
// clients, the reconciler, and the wait loop can be told apart. Call
// InitForCLI once at startup; the level filter applies at the handler so
// suppressed messages cost nothing.
package logging
