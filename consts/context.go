package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// ExecutionIDKey carries the id of the script execution a request or
	// delivery belongs to, so log lines from different layers correlate.
	ExecutionIDKey = ContextKey("execution_id")
)
