// Package services holds the business logic between the HTTP handlers
// and the extraction pipeline.
//
// ExtractionService owns the run lifecycle: it creates run records,
// drives the pipeline, records metrics, and answers status queries.
// HealthService reports liveness, readiness, and engine availability.
// ExportService writes completed runs to CSV and XLSX files.
//
// Each service takes its dependencies through its constructor and
// accepts a context on every call, so handlers can cancel work and
// traces flow end to end. Services return domain errors (unreadable
// input, missing run, engine unavailable) and leave HTTP status mapping
// to the transport layer.
package services
