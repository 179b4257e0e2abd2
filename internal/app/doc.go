// Package app wires the divorcecast API server together.
//
// Startup order:
//
//  1. Load configuration (defaults, YAML file, DIVORCECAST_* environment)
//  2. Initialize the slog logger and OpenTelemetry providers
//  3. Build the cache store, websocket hub and dashboard service
//  4. Start the data directory watcher and the cache warm schedule
//  5. Mount the HTTP routes and serve
//
// Stop reverses the order and waits for in-flight requests up to the
// configured shutdown timeout.
package app
