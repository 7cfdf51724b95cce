// Package errors provides the typed error taxonomy returned by the order
// coordinator. Every failure a caller can observe carries an ErrorCode,
// an ErrorCategory and a retryability flag, so user interfaces can offer
// "try again" only where it can help.
//
// # Categories
//
//   - Transient: the store or broker failed; retry may succeed.
//   - Permanent: the request lost a race or is not allowed; re-fetch first.
//   - Resource: the provider hit the claim quota.
//   - Internal: a bug or a corrupt record.
//
// Only transient errors are retryable. The coordinator itself never
// retries a domain operation.
//
// # Codes
//
//	CLAIM_CONFLICT      another provider won the claim
//	QUOTA_EXCEEDED      provider already holds the maximum number of claims
//	NOT_OWNER           caller is not the assigned provider or customer
//	INVALID_TRANSITION  action undefined for the current state and role
//	TERMINAL_STATE      record already completed or cancelled
//	NOT_FOUND           unknown id
//	UNAVAILABLE         store unavailable
//
// # Usage
//
//	err := errors.New(errors.ErrCodeNotOwner, "task held by another provider",
//	    errors.WithTaskID(id), errors.WithActorID(caller))
//
//	if errors.Is(err, errors.ErrCodeClaimConflict) {
//	    // refresh the list
//	}
//
// Errors marshal to JSON for transport to clients:
//
//	data, _ := json.Marshal(err)
package errors
