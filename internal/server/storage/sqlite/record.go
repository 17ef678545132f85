package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server/storage"
)

// queryer общий интерфейс *sql.DB и *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ApplyOperation applies a create, update or delete in one transaction
func (s *Storage) ApplyOperation(ctx context.Context, userID string, op storage.Operation) (*storage.ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Повторная отправка уже примененной операции
	replayed, err := getApplied(ctx, tx, userID, op.CorrelationID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, err
	}
	if replayed != nil {
		if replayed.Collection != op.Collection || replayed.ID != op.RecordID {
			return nil, storage.ErrReplayMismatch
		}
		return &storage.ApplyResult{Record: replayed, Replayed: true}, nil
	}

	current, err := getRecord(ctx, tx, userID, op.Collection, op.RecordID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	var next *models.Record

	switch op.Kind {
	case models.KindCreate:
		if current != nil {
			return nil, &storage.ConflictError{Current: current, Reason: "record already exists"}
		}
		next = &models.Record{
			Collection: op.Collection,
			ID:         op.RecordID,
			UserID:     userID,
			Data:       op.Payload,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (user_id, collection, id, data, version, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			userID, next.Collection, next.ID, []byte(next.Data), next.Version, now, now,
		); err != nil {
			return nil, fmt.Errorf("failed to insert record: %w", err)
		}

	case models.KindUpdate, models.KindDelete:
		if current == nil {
			return nil, storage.ErrRecordNotFound
		}
		if current.Version != op.BaseVersion {
			reason := fmt.Sprintf("record is at version %d, operation is based on %d", current.Version, op.BaseVersion)
			if current.Deleted {
				reason = "record was deleted"
			}
			return nil, &storage.ConflictError{Current: current, Reason: reason}
		}

		next = current
		// удаление уже удаленной записи на ее текущей версии ничего не меняет
		if op.Kind != models.KindDelete || !current.Deleted {
			next.Version++
			next.UpdatedAt = now
			if op.Kind == models.KindDelete {
				next.Deleted = true
			} else {
				// изменение на версии удаления восстанавливает запись
				next.Data = op.Payload
				next.Deleted = false
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE records SET data = ?, version = ?, deleted = ?, updated_at = ?
				WHERE user_id = ? AND collection = ? AND id = ?`,
				[]byte(next.Data), next.Version, next.Deleted, now,
				userID, next.Collection, next.ID,
			); err != nil {
				return nil, fmt.Errorf("failed to update record: %w", err)
			}
		}

	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	// Запоминаем подтверждение для идемпотентных повторов
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applied_operations (user_id, correlation_id, collection, record_id, data, version, deleted, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, op.CorrelationID, next.Collection, next.ID, []byte(next.Data), next.Version, next.Deleted, now,
	); err != nil {
		return nil, fmt.Errorf("failed to record applied operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit operation: %w", err)
	}

	return &storage.ApplyResult{Record: next}, nil
}

// GetRecord returns the current record
func (s *Storage) GetRecord(ctx context.Context, userID, collection, id string) (*models.Record, error) {
	return getRecord(ctx, s.db, userID, collection, id)
}

// ListRecords returns non-deleted records of a collection
func (s *Storage) ListRecords(ctx context.Context, userID, collection string) ([]*models.Record, error) {
	query := `
		SELECT collection, id, data, version, deleted, created_at, updated_at
		FROM records
		WHERE user_id = ? AND collection = ? AND deleted = 0
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := make([]*models.Record, 0)
	for rows.Next() {
		rec := &models.Record{UserID: userID}
		var data []byte
		if err := rows.Scan(&rec.Collection, &rec.ID, &data, &rec.Version, &rec.Deleted, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Data = json.RawMessage(data)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

func getRecord(ctx context.Context, q queryer, userID, collection, id string) (*models.Record, error) {
	query := `
		SELECT collection, id, data, version, deleted, created_at, updated_at
		FROM records
		WHERE user_id = ? AND collection = ? AND id = ?
	`

	rec := &models.Record{UserID: userID}
	var data []byte
	err := q.QueryRowContext(ctx, query, userID, collection, id).Scan(
		&rec.Collection, &rec.ID, &data, &rec.Version, &rec.Deleted, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec.Data = json.RawMessage(data)

	return rec, nil
}

// getApplied возвращает снимок записи, сохраненный при первом применении операции
func getApplied(ctx context.Context, q queryer, userID, correlationID string) (*models.Record, error) {
	query := `
		SELECT a.collection, a.record_id, a.data, a.version, a.deleted, a.applied_at, r.created_at
		FROM applied_operations a
		LEFT JOIN records r ON r.user_id = a.user_id AND r.collection = a.collection AND r.id = a.record_id
		WHERE a.user_id = ? AND a.correlation_id = ?
	`

	rec := &models.Record{UserID: userID}
	var (
		data      []byte
		createdAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, userID, correlationID).Scan(
		&rec.Collection, &rec.ID, &data, &rec.Version, &rec.Deleted, &rec.UpdatedAt, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get applied operation: %w", err)
	}
	rec.Data = json.RawMessage(data)
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}

	return rec, nil
}
