// internal/manager/errors.go
package manager

import "fmt"

// ValidationError marks a request missing a required identifier. It is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// ConflictError means the tenant already holds an active channel instance.
type ConflictError struct {
	TenantID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tenant %s already has an active channel instance", e.TenantID)
}

// NotFoundError means no local record exists for the named instance.
type NotFoundError struct {
	InstanceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("channel instance %q not found", e.InstanceName)
}

// ConfigurationError marks a missing operator-supplied setting. It is fatal
// for the operation and must be visible to the operator, not just the caller.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// PersistenceError wraps a local store write failure. These are always
// surfaced: swallowing one risks silent divergence between the local record
// and the remote session.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedEventError marks a webhook payload that could not be parsed or
// matched to an instance. The ingestion endpoint logs and drops these while
// still acknowledging the delivery.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed provider event: " + e.Reason
}
