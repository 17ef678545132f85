package outbox

import (
	"time"

	"github.com/iudanet/farmkeeper/internal/models"
)

// transition is the effect of a trigger on an operation.
type transition struct {
	to     models.Status
	remove bool // remove операция удаляется из очереди
}

// transitions — полная таблица переходов. Отсутствие пары (статус, триггер)
// означает, что переход запрещен.
var transitions = map[models.Status]map[models.Trigger]transition{
	models.StatusPending: {
		models.TriggerDispatch: {to: models.StatusSyncing},
		models.TriggerCancel:   {remove: true},
	},
	models.StatusSyncing: {
		models.TriggerSucceed:          {to: models.StatusSynced},
		models.TriggerFailTransient:    {to: models.StatusError},
		models.TriggerFailPermanent:    {to: models.StatusError},
		models.TriggerFailConflict:     {to: models.StatusConflict},
		models.TriggerConnectivityLost: {to: models.StatusPending},
	},
	models.StatusSynced: {
		models.TriggerExpire: {remove: true},
	},
	models.StatusError: {
		models.TriggerRetry:   {to: models.StatusSyncing},
		models.TriggerDiscard: {remove: true},
	},
	models.StatusConflict: {
		models.TriggerResolve: {to: models.StatusSyncing},
		models.TriggerDiscard: {remove: true},
	},
}

// Allowed reports whether trigger is defined for an operation in status from.
func Allowed(from models.Status, trigger models.Trigger) bool {
	_, ok := transitions[from][trigger]
	return ok
}

// applyTrigger moves op according to the transition table.
// Every entry into syncing counts as one more submission attempt.
// On error op is not modified.
func applyTrigger(op *models.PendingOperation, trigger models.Trigger, now time.Time) (remove bool, err error) {
	t, ok := transitions[op.Status][trigger]
	if !ok {
		return false, invalidTransition(op, trigger)
	}
	if t.remove {
		return true, nil
	}

	op.Status = t.to
	op.UpdatedAt = now
	if t.to == models.StatusSyncing {
		op.Attempt++
	}
	return false, nil
}
