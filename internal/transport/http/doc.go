// Package http implements the chi handlers of the dashboard API.
//
// Handlers stay thin: they parse and validate query parameters, call the
// dashboard service and render either the success envelope
//
//	{"status": "success", "data": ..., "count": n}
//
// or an RFC 7807 problem through errors.ErrorHandler. AppError types map
// to statuses there, so a missing input file answers 404 with the
// FILE_MISSING problem type and a failed model fit answers 422.
//
// Routes:
//
//	/api/data       status, series
//	/api/forecast   saturating (+ .csv, /stored), classical/future,
//	                classical/rolling, metrics, scenario
//	/api/forecast/tune  POST, mounted with the longer tune timeout
//	/api/regions    schemes, summary (+ .xlsx), kpis, trend, share,
//	                top-provinces
//	/api/metrics    cache and websocket counters
//
// Tests mock DashboardServiceInterface with testify.
package http
