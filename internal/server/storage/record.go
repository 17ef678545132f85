package storage

import (
	"context"
	"encoding/json"

	"github.com/iudanet/farmkeeper/internal/models"
)

// Operation is a client mutation as received by the server.
type Operation struct {
	Payload       json.RawMessage
	CorrelationID string
	Kind          models.OperationKind
	Collection    string
	RecordID      string
	BaseVersion   int64
}

// ApplyResult is the confirmation of an applied operation.
type ApplyResult struct {
	// Record состояние записи сразу после применения операции
	Record *models.Record
	// Replayed операция с этим correlation id уже была применена ранее
	Replayed bool
}

// RecordStorage defines interface for farm record persistence.
// Записи изолированы по пользователю.
type RecordStorage interface {
	// ApplyOperation applies op atomically for userID.
	// create inserts version 1, update and delete require op.BaseVersion to
	// equal the current version and bump it; delete is a soft delete.
	// A correlation id that was already applied returns the stored
	// confirmation with Replayed set and changes nothing.
	// Returns *ConflictError when the precondition fails and
	// ErrRecordNotFound when update or delete target a missing record.
	ApplyOperation(ctx context.Context, userID string, op Operation) (*ApplyResult, error)

	// GetRecord returns the current record, including soft-deleted ones
	// Returns ErrRecordNotFound if record doesn't exist
	GetRecord(ctx context.Context, userID, collection, id string) (*models.Record, error)

	// ListRecords returns non-deleted records of a collection ordered by id
	ListRecords(ctx context.Context, userID, collection string) ([]*models.Record, error)
}
