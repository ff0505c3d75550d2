// Package http implements the HTTP handlers for the statement extraction
// service. Handlers stay thin: they parse requests, call a service, and
// render the result; business rules live in internal/services and the
// pipeline.
//
// ExtractionHandler owns the run lifecycle: POST /api/extraction starts a
// run (synchronous, or detached with ?async=true), GET polls, DELETE
// removes. ExportHandler serves holdings downloads for completed runs and
// the exports directory listing. HealthHandler exposes liveness, readiness
// and build information. ClientLogHandler ingests frontend log batches.
//
// Errors are rendered as RFC 7807 problem documents:
//
//	{
//	    "type": "/errors/document/unreadable",
//	    "title": "Document Unreadable",
//	    "status": 400,
//	    "detail": "document format not recognized",
//	    "trace_id": "req-123"
//	}
//
// Tests use httptest servers with the in-memory run store, so every
// handler path is exercised without network or disk dependencies.
package http
