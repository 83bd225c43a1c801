package logger

// Standard field names for consistent structured logging across Sentivane.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID   = "job_id"
	FieldJobType = "job_type"
	FieldSource  = "source"
	FieldDate    = "date"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldAttempt   = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldBackoff    = "backoff"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount     = "count"
	FieldProcessed = "processed"
	FieldFailed    = "failed"
	FieldTotal     = "total"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Sentivane-specific
	FieldSymbol     = "symbol" // log glyph (꩜, ✿, ❀, ☉)
	FieldValue      = "value"
	FieldLevel      = "level"
	FieldConfidence = "confidence"
)
