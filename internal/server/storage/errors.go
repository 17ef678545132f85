package storage

import (
	"errors"
	"fmt"

	"github.com/iudanet/farmkeeper/internal/models"
)

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrRecordNotFound indicates that the record does not exist
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionMismatch indicates that the operation was based on a stale record
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrReplayMismatch indicates a correlation id reused for a different record
	ErrReplayMismatch = errors.New("correlation id already used for another record")
)

// ConflictError is returned when an operation's precondition does not hold
// against the current record. Current is nil only for unexpected states.
type ConflictError struct {
	Current *models.Record
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.Current != nil {
		return fmt.Sprintf("conflict on %s/%s at version %d: %s",
			e.Current.Collection, e.Current.ID, e.Current.Version, e.Reason)
	}
	return "conflict: " + e.Reason
}

// Unwrap позволяет проверять конфликт через errors.Is(err, ErrVersionMismatch)
func (e *ConflictError) Unwrap() error {
	return ErrVersionMismatch
}
