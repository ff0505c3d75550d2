// Package config loads and validates the service configuration.
//
// Values are resolved in precedence order: environment variables first,
// then a YAML file (config.yaml or configs/config.yaml), then struct-tag
// defaults. Environment variables are namespaced PORTEX_*:
//
//	PORTEX_SERVER_PORT=8080
//	PORTEX_LOGGING_LEVEL=info
//	PORTEX_EXTRACTION_ACCURACY_THRESHOLD=0.999
//	PORTEX_ENGINES_REASONING_API_KEY=sk-...
//
// Load validates the merged result before returning it: thresholds must
// be in range, the extraction plausibility window must be non-empty, and
// the data and exports directories must exist or be creatable. A service
// that starts with a bad threshold would silently approve bad runs, so
// misconfiguration is fatal at startup rather than detected later.
package config
