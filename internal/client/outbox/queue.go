package outbox

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/farmkeeper/internal/client/storage"
	"github.com/iudanet/farmkeeper/internal/models"
)

// Change describes a committed queue mutation.
type Change struct {
	Op      *models.PendingOperation // Op копия операции после изменения
	Removed bool                     // Removed операция удалена из очереди
}

// Queue is the ordered collection of operations awaiting confirmation.
// Reads return copies. Status changes go through the Reconciler only.
type Queue struct {
	store  storage.OperationStorage
	logger *slog.Logger
	now    func() time.Time
	ops    map[string]*models.PendingOperation
	subs   []func(Change)
	mu     sync.RWMutex
	seq    int64
}

// NewQueue creates an empty queue persisted to store.
// A nil store keeps the queue in memory only.
func NewQueue(store storage.OperationStorage, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		logger: logger,
		now:    time.Now,
		ops:    make(map[string]*models.PendingOperation),
	}
}

// Subscribe registers fn to be called after every committed change, in
// commit order. fn runs under the queue lock and must not call back into the queue.
func (q *Queue) Subscribe(fn func(Change)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, fn)
}

// Load restores operations persisted by a previous session.
// Operations that were in flight return to pending, confirmed ones are dropped.
func (q *Queue) Load(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}

	ops, err := q.store.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load operations: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	loaded := 0
	for _, op := range ops {
		switch op.Status {
		case models.StatusSynced:
			if err := q.store.DeleteOperation(ctx, op.CorrelationID); err != nil {
				return loaded, fmt.Errorf("failed to drop synced operation: %w", err)
			}
			continue
		case models.StatusSyncing:
			// ответ сервера потерян вместе с процессом, повторная отправка идемпотентна
			op.Status = models.StatusPending
			op.UpdatedAt = q.now()
			if err := q.store.SaveOperation(ctx, op); err != nil {
				return loaded, fmt.Errorf("failed to requeue operation: %w", err)
			}
		}

		q.ops[op.CorrelationID] = op
		if op.Seq > q.seq {
			q.seq = op.Seq
		}
		loaded++
	}

	q.logger.Debug("Outbox loaded", "operations", loaded)
	return loaded, nil
}

// Enqueue registers a mutation as a new pending operation and returns its
// correlation id. It never fails: a persistence error is logged and the
// operation is still tracked in memory.
func (q *Queue) Enqueue(ctx context.Context, m models.Mutation) string {
	now := q.now()

	if m.Kind == models.KindCreate && m.RecordID == "" {
		m.RecordID = uuid.New().String()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	op := &models.PendingOperation{
		CorrelationID: uuid.New().String(),
		Kind:          m.Kind,
		Collection:    m.Collection,
		RecordID:      m.RecordID,
		BaseVersion:   m.BaseVersion,
		Payload:       m.Payload,
		Status:        models.StatusPending,
		Seq:           q.seq,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	q.ops[op.CorrelationID] = op
	q.persist(ctx, op)
	q.notify(Change{Op: op.Clone()})

	q.logger.Debug("Operation enqueued",
		"correlation_id", op.CorrelationID,
		"kind", op.Kind,
		"collection", op.Collection,
		"record_id", op.RecordID)

	return op.CorrelationID
}

// Get returns a copy of the operation or storage.ErrOperationNotFound.
func (q *Queue) Get(correlationID string) (*models.PendingOperation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	op, ok := q.ops[correlationID]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	return op.Clone(), nil
}

// List returns copies of all operations in insertion order.
func (q *Queue) List() []*models.PendingOperation {
	return q.filter(func(*models.PendingOperation) bool { return true })
}

// ListByStatus returns copies of operations in the given status, in insertion order.
func (q *Queue) ListByStatus(status models.Status) []*models.PendingOperation {
	return q.filter(func(op *models.PendingOperation) bool { return op.Status == status })
}

// Len returns the number of tracked operations.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ops)
}

// Remove deletes the operation. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, correlationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[correlationID]
	if !ok {
		return
	}
	delete(q.ops, correlationID)
	q.forget(ctx, correlationID)
	q.notify(Change{Op: op, Removed: true})
}

// update applies fn to a copy of the operation and commits the copy only
// when fn succeeds. When fn reports removal the operation is deleted.
// It returns the committed copy, or nil when the operation was removed.
func (q *Queue) update(
	ctx context.Context,
	correlationID string,
	fn func(op *models.PendingOperation) (remove bool, err error),
) (*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.ops[correlationID]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}

	next := current.Clone()
	remove, err := fn(next)
	if err != nil {
		return nil, err
	}

	if remove {
		delete(q.ops, correlationID)
		q.forget(ctx, correlationID)
		q.notify(Change{Op: current, Removed: true})
		return nil, nil
	}

	q.ops[correlationID] = next
	q.persist(ctx, next)
	q.notify(Change{Op: next.Clone()})
	return next.Clone(), nil
}

func (q *Queue) filter(keep func(*models.PendingOperation) bool) []*models.PendingOperation {
	q.mu.RLock()
	result := make([]*models.PendingOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if keep(op) {
			result = append(result, op.Clone())
		}
	}
	q.mu.RUnlock()

	sortBySeq(result)
	return result
}

func (q *Queue) notify(c Change) {
	for _, fn := range q.subs {
		fn(c)
	}
}

// persist и forget вызываются под q.mu, чтобы порядок записей совпадал с порядком переходов.
func (q *Queue) persist(ctx context.Context, op *models.PendingOperation) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveOperation(ctx, op); err != nil {
		q.logger.Error("Failed to persist operation",
			"correlation_id", op.CorrelationID,
			"error", err)
	}
}

func (q *Queue) forget(ctx context.Context, correlationID string) {
	if q.store == nil {
		return
	}
	if err := q.store.DeleteOperation(ctx, correlationID); err != nil {
		q.logger.Error("Failed to delete persisted operation",
			"correlation_id", correlationID,
			"error", err)
	}
}

func sortBySeq(ops []*models.PendingOperation) {
	slices.SortFunc(ops, func(a, b *models.PendingOperation) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
}
