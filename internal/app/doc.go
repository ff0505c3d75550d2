// Package app wires the statement extraction service together and
// manages its lifecycle.
//
// NewApplication loads configuration, initializes logging and
// OpenTelemetry, assembles the pipeline (classifier, strategies, fusion,
// enhancement, quality gate, engines), constructs the services, and
// mounts the HTTP routes and middleware. Run starts the server and
// blocks until SIGINT or SIGTERM, then drains active requests, closes
// WebSocket connections, and flushes the telemetry providers.
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// Initialization errors are returned rather than fatal-logged, so main
// controls the exit path.
package app
