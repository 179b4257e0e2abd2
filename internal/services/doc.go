// Package services sits between the HTTP handlers and the analytics
// packages.
//
// DashboardService is the load boundary: every input file is read through
// the memo cache, and the outcome of the last read is kept per dataset so
// the data status panel can show a message instead of failing. Pipeline
// errors from forecast, evaluation and region are returned unchanged as
// typed AppErrors.
//
// HealthService answers liveness and readiness probes. Readiness requires
// the model series and regional tables to load.
//
// Events (dataset.changed, cache.warmed, tune.trial, tune.complete) are
// pushed through a Notifier, normally the websocket hub.
package services
