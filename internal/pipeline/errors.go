package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or blob does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when an external service cannot be reached
	ErrUnavailable = errors.New("service unavailable")

	// ErrConflict is returned when a job of the same kind is already running for a record
	ErrConflict = errors.New("job already running")

	// ErrCorruptMetadata is returned when an existing metadata bag cannot be decoded
	ErrCorruptMetadata = errors.New("corrupt metadata")

	// ErrOutOfRange is returned when a page is requested from an empty listing
	ErrOutOfRange = errors.New("page out of range")

	// ErrUnknownJob is returned when a job kind is not registered
	ErrUnknownJob = errors.New("unknown job kind")
)

// VendorError is an error payload returned by an external processor (OCR
// vendor or model runtime).
type VendorError struct {
	Status  int
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor error (status %d): %s", e.Status, e.Message)
}

// EnrichmentError reports a failed enrichment job. Network failures, vendor
// error payloads and blob fetch failures all surface through this one type.
type EnrichmentError struct {
	Kind     string
	RecordID string
	Cause    error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s failed for record %s: %v", e.Kind, e.RecordID, e.Cause)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Cause
}
