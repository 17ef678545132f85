package storage

import (
	"context"

	"github.com/iudanet/farmkeeper/internal/models"
)

//go:generate moq -out operations_mock.go . OperationStorage

// OperationStorage persists the pending operation queue between sessions.
// It is a plain key-value layer: it stores whatever the queue hands it and
// never changes an operation's status on its own.
type OperationStorage interface {
	// SaveOperation stores or replaces an operation by correlation id
	SaveOperation(ctx context.Context, op *models.PendingOperation) error

	// GetOperation retrieves an operation by correlation id
	// Returns ErrOperationNotFound if it doesn't exist
	GetOperation(ctx context.Context, correlationID string) (*models.PendingOperation, error)

	// ListOperations returns all stored operations ordered by Seq
	ListOperations(ctx context.Context) ([]*models.PendingOperation, error)

	// DeleteOperation removes an operation; deleting a missing one is not an error
	DeleteOperation(ctx context.Context, correlationID string) error
}
