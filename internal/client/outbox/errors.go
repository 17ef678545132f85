package outbox

import "errors"

var (
	// ErrInvalidTransition indicates that the trigger is not defined for the
	// operation's current status. The operation is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotCancellable indicates that the operation is already in flight
	ErrNotCancellable = errors.New("operation already dispatched and cannot be cancelled")

	// ErrResolutionRequired indicates that a conflict resolution lacks the payload it needs
	ErrResolutionRequired = errors.New("conflict resolution requires a payload")

	// ErrEditRequired indicates that the remote rejected the payload and a plain retry would fail again
	ErrEditRequired = errors.New("payload was rejected, edit it before retrying")

	// ErrOffline indicates that submissions are suspended until connectivity resumes
	ErrOffline = errors.New("offline or not authenticated")

	// ErrClosed indicates that the reconciler was closed
	ErrClosed = errors.New("reconciler is closed")
)
