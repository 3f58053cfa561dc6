// Package apierr defines the typed error taxonomy the pipeline returns and
// the HTTP transport maps onto the wire error envelope and status code.
// Every bucket is its own Go type so httpapi never re-derives a status
// code by string-matching an error message.
package apierr

import "fmt"

// Error is the interface every taxonomy bucket satisfies; it is also a
// standard Go error.
type Error interface {
	error
	// Code is the short dotted reason string exposed in the wire envelope.
	Code() string
	// StatusCode is the HTTP status the transport layer sets.
	StatusCode() int
	// Details is optional structured context (e.g. existing_hash/incoming_hash).
	Details() map[string]interface{}
}

// ValidationError represents a client-side contract problem: missing
// fields, unrecognized enums, unparseable timestamps, version mismatch.
// HTTP 400.
type ValidationError struct {
	Msg  string
	Dets map[string]interface{}
}

func (e *ValidationError) Error() string                    { return fmt.Sprintf("validation_error: %s", e.Msg) }
func (e *ValidationError) Code() string                     { return "validation_error" }
func (e *ValidationError) StatusCode() int                  { return 400 }
func (e *ValidationError) Details() map[string]interface{}  { return e.Dets }

// PolicyError represents a request that is semantically disallowed.
// HTTP 400.
type PolicyError struct {
	Reason string
	Msg    string
	Dets   map[string]interface{}
}

func (e *PolicyError) Error() string                   { return fmt.Sprintf("%s: %s", e.Reason, e.Msg) }
func (e *PolicyError) Code() string                    { return e.Reason }
func (e *PolicyError) StatusCode() int                 { return 400 }
func (e *PolicyError) Details() map[string]interface{} { return e.Dets }

// NewProviderNotAllowed builds the policy.provider_not_allowed error for
// an event whose source is not on the configured allow-list.
func NewProviderNotAllowed(source string, allowed []string) *PolicyError {
	return &PolicyError{
		Reason: "policy.provider_not_allowed",
		Msg:    fmt.Sprintf("source %q is not an allowed provider", source),
		Dets: map[string]interface{}{
			"source":            source,
			"allowed_providers": allowed,
		},
	}
}

// NewActionTypeNotAllowed builds the policy.action_type_not_allowed error
// for an event requesting an action type not on the configured allow-list.
func NewActionTypeNotAllowed(actionType string, allowed []string) *PolicyError {
	return &PolicyError{
		Reason: "policy.action_type_not_allowed",
		Msg:    fmt.Sprintf("action type %q is not allowed", actionType),
		Dets: map[string]interface{}{
			"action_type":          actionType,
			"allowed_action_types": allowed,
		},
	}
}

// ConflictError represents a reused idempotency key with a different
// payload, or an illegal state-machine transition. HTTP 409.
type ConflictError struct {
	Reason string // "conflict.payload_mismatch" or "conflict.invalid_transition"
	Msg    string
	Dets   map[string]interface{}
}

func (e *ConflictError) Error() string                   { return fmt.Sprintf("%s: %s", e.Reason, e.Msg) }
func (e *ConflictError) Code() string                    { return e.Reason }
func (e *ConflictError) StatusCode() int                 { return 409 }
func (e *ConflictError) Details() map[string]interface{} { return e.Dets }

// NewPayloadMismatch builds the conflict.payload_mismatch error with both
// hashes attached so the caller can see exactly what differed.
func NewPayloadMismatch(existingHash, incomingHash string) *ConflictError {
	return &ConflictError{
		Reason: "conflict.payload_mismatch",
		Msg:    "idempotency key reused with a different payload",
		Dets: map[string]interface{}{
			"existing_hash": existingHash,
			"incoming_hash": incomingHash,
		},
	}
}

// NewInvalidTransition builds the conflict.invalid_transition error.
func NewInvalidTransition(from, to string) *ConflictError {
	return &ConflictError{
		Reason: "conflict.invalid_transition",
		Msg:    fmt.Sprintf("illegal transition from %q to %q", from, to),
		Dets: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NotFoundError represents a missing state lookup. HTTP 404.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string                   { return "not_found: " + e.Msg }
func (e *NotFoundError) Code() string                    { return "not_found" }
func (e *NotFoundError) StatusCode() int                 { return 404 }
func (e *NotFoundError) Details() map[string]interface{} { return nil }

// InternalError represents audit-write or store failure. HTTP 500. These
// are the only errors that may indicate data-loss risk; callers SHOULD
// retry with the same idempotency key.
type InternalError struct {
	Reason string // "internal.audit_write_failed" or "internal.error"
	Cause  error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}
func (e *InternalError) Code() string                    { return e.Reason }
func (e *InternalError) StatusCode() int                 { return 500 }
func (e *InternalError) Details() map[string]interface{} { return nil }
func (e *InternalError) Unwrap() error                   { return e.Cause }

// AuditWriteFailed wraps cause as internal.audit_write_failed.
func AuditWriteFailed(cause error) *InternalError {
	return &InternalError{Reason: "internal.audit_write_failed", Cause: cause}
}

// StoreFailed wraps cause as internal.error.
func StoreFailed(cause error) *InternalError {
	return &InternalError{Reason: "internal.error", Cause: cause}
}
