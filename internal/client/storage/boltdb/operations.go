package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/farmkeeper/internal/client/storage"
	"github.com/iudanet/farmkeeper/internal/models"
)

// SaveOperation stores or replaces a pending operation keyed by correlation id
func (s *Storage) SaveOperation(ctx context.Context, op *models.PendingOperation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOperations)
		if bucket == nil {
			return fmt.Errorf("operations bucket not found")
		}

		if err := bucket.Put([]byte(op.CorrelationID), data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetOperation retrieves a pending operation by correlation id
func (s *Storage) GetOperation(ctx context.Context, correlationID string) (*models.PendingOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var op *models.PendingOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOperations)
		if bucket == nil {
			return storage.ErrOperationNotFound
		}

		data := bucket.Get([]byte(correlationID))
		if data == nil {
			return storage.ErrOperationNotFound
		}

		op = &models.PendingOperation{}
		if err := json.Unmarshal(data, op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return op, nil
}

// ListOperations returns all stored operations ordered by insertion sequence
func (s *Storage) ListOperations(ctx context.Context) ([]*models.PendingOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []*models.PendingOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOperations)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var op models.PendingOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation %s: %w", k, err)
			}
			ops = append(ops, &op)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	// Ключи bucket отсортированы по correlation id, порядок вставки восстанавливаем по Seq
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Seq < ops[j].Seq
	})

	return ops, nil
}

// DeleteOperation removes an operation; missing keys are ignored
func (s *Storage) DeleteOperation(ctx context.Context, correlationID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOperations)
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(correlationID))
	})

	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}
