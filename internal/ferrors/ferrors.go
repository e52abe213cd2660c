// Package ferrors defines the typed error kinds surfaced by the federated
// memory core (§7). Callers use errors.As to recover a kind and map it to a
// JSON-RPC payload at the transport boundary.
package ferrors

import "fmt"

// AuthenticationRequiredError is returned when a private tool is invoked
// without a UserContext. Recoverable by the client via OAuth.
type AuthenticationRequiredError struct {
	Tool string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("authentication required for tool %q", e.Tool)
}

func (e *AuthenticationRequiredError) Kind() string { return "AuthenticationRequired" }

// NotFoundError indicates a memory/module/user does not exist, or is not
// owned by the caller. Non-fatal.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Kind() string { return "NotFound" }

// InvalidArgumentError indicates a request failed schema validation, named an
// unknown classification target, or supplied a dimension-mismatched vector.
type InvalidArgumentError struct {
	Field   string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

func (e *InvalidArgumentError) Kind() string { return "InvalidArgument" }

// EmbeddingUnavailableError indicates the embedding provider exhausted its
// retry budget. Fatal for the call that triggered it; the session survives.
type EmbeddingUnavailableError struct {
	Cause error
}

func (e *EmbeddingUnavailableError) Error() string {
	if e.Cause == nil {
		return "embedding provider unavailable"
	}
	return fmt.Sprintf("embedding provider unavailable: %v", e.Cause)
}

func (e *EmbeddingUnavailableError) Kind() string { return "EmbeddingUnavailable" }
func (e *EmbeddingUnavailableError) Unwrap() error { return e.Cause }

// StorageFailureError indicates a vector-store write failed after best-effort
// compensation. The integrity sweep (§9 "Write-through consistency without
// 2PC") is responsible for eventually restoring the CMI-coverage invariant.
type StorageFailureError struct {
	Op    string
	Cause error
}

func (e *StorageFailureError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Cause)
}

func (e *StorageFailureError) Kind() string { return "StorageFailure" }
func (e *StorageFailureError) Unwrap() error { return e.Cause }

// SearchUnavailableError indicates CMI routing could not produce any
// candidate at all (e.g. the query embedding itself failed). Fatal for the
// call; distinct from a partial per-module fan-out failure, which is
// contained rather than surfaced.
type SearchUnavailableError struct {
	Cause error
}

func (e *SearchUnavailableError) Error() string {
	return fmt.Sprintf("search unavailable: %v", e.Cause)
}

func (e *SearchUnavailableError) Kind() string { return "SearchUnavailable" }
func (e *SearchUnavailableError) Unwrap() error { return e.Cause }

// CancelledError indicates the session closed or the tool deadline elapsed
// before the operation completed.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %s", e.Reason)
}

func (e *CancelledError) Kind() string { return "Cancelled" }
