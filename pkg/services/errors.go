package services

import (
	"errors"
	"fmt"

	"github.com/openintent-protocol/openintent/pkg/models"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrLeaseConflict is returned when a scope is already held by a live lease
	ErrLeaseConflict = errors.New("scope already leased")

	// ErrChannelClosed is returned when sending into a closed channel
	ErrChannelClosed = errors.New("channel is closed")

	// ErrAlreadyDecided is returned when re-deciding a terminal approval or
	// access request
	ErrAlreadyDecided = errors.New("already decided")

	// ErrRateLimited is returned when an inbound federation source exceeds
	// its envelope rate limit
	ErrRateLimited = errors.New("rate limit exceeded")
)

// VersionConflictError is returned when an If-Match compare-and-swap fails.
// CurrentVersion carries the version the client must observe to retry.
type VersionConflictError struct {
	IntentID       string
	CurrentVersion int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on intent %s: current version is %d", e.IntentID, e.CurrentVersion)
}

// PermissionError is returned when the ACL denies an operation.
type PermissionError struct {
	Principal string
	Required  models.Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("principal %q lacks %s permission", e.Principal, e.Required)
}

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
