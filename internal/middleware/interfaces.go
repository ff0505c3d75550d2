package middleware

// EngineHealthChecker defines the interface for probing downstream engine
// availability. This allows for easier testing and decoupling from the
// concrete implementation.
type EngineHealthChecker interface {
	Ready() (bool, error)
}
