package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates infrastructure failures where retry may succeed.
	// Examples: store timeouts, broker unavailable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry without new input will not help.
	// Examples: lost claim race, wrong owner, invalid transition.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates a per-actor limit.
	// Examples: claim quota exhausted.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates bugs or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
// Only transient failures qualify; a quota frees up only when the provider
// releases a claim, so resource errors are handed back to the caller.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for coordinator failures.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Store call timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Store or broker unavailable

	// Permanent errors
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"          // Record does not exist
	ErrCodeClaimConflict     ErrorCode = "CLAIM_CONFLICT"     // Lost the race to claim
	ErrCodeConflict          ErrorCode = "CONFLICT"           // Record changed since it was read
	ErrCodeNotOwner          ErrorCode = "NOT_OWNER"          // Actor does not own the record
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION" // Action undefined for state and role
	ErrCodeTerminalState     ErrorCode = "TERMINAL_STATE"     // Record already in a terminal state
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"      // Malformed or invalid input
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"       // Caller identity missing or invalid
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"     // Record already exists
	ErrCodeCanceled          ErrorCode = "CANCELED"           // Context canceled

	// Resource errors
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED" // Provider at the claim limit
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"   // Caller sent too many requests

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Stored record could not be decoded
	ErrCodeAssertion  ErrorCode = "ASSERTION"  // Record invariant violated
	ErrCodePanic      ErrorCode = "PANIC"      // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeClaimConflict, ErrCodeConflict, ErrCodeNotOwner,
		ErrCodeInvalidTransition, ErrCodeTerminalState, ErrCodeInvalidInput,
		ErrCodeUnauthorized, ErrCodeAlreadyExists, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeQuotaExceeded, ErrCodeRateLimited:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:           "operation timed out",
	ErrCodeUnavailable:       "store temporarily unavailable",
	ErrCodeNotFound:          "record not found",
	ErrCodeClaimConflict:     "task was claimed by someone else",
	ErrCodeConflict:          "record changed concurrently",
	ErrCodeNotOwner:          "caller is not the owner",
	ErrCodeInvalidTransition: "action not allowed in current state",
	ErrCodeTerminalState:     "record is in a terminal state",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeUnauthorized:      "authentication required",
	ErrCodeAlreadyExists:     "record already exists",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeQuotaExceeded:     "claim quota exceeded",
	ErrCodeRateLimited:       "too many requests",
	ErrCodeInternal:          "internal error",
	ErrCodeCorruption:        "stored record is corrupt",
	ErrCodeAssertion:         "record invariant violated",
	ErrCodePanic:             "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
