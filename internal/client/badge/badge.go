// Package badge maps sync statuses to what the presentation layer shows.
package badge

import (
	"fmt"

	"github.com/iudanet/farmkeeper/internal/models"
)

// Category is the visual class of a badge.
type Category string

const (
	CategoryNeutral  Category = "neutral"  // CategoryNeutral ожидает отправки
	CategoryProgress Category = "progress" // CategoryProgress отправка идет
	CategorySuccess  Category = "success"  // CategorySuccess подтверждено сервером
	CategoryDanger   Category = "danger"   // CategoryDanger ошибка отправки
	CategoryWarning  Category = "warning"  // CategoryWarning конфликт, нужно решение пользователя
)

// Symbol returns a one-character marker for terminal output.
func (c Category) Symbol() string {
	switch c {
	case CategoryNeutral:
		return "…"
	case CategoryProgress:
		return "↻"
	case CategorySuccess:
		return "✓"
	case CategoryDanger:
		return "✗"
	case CategoryWarning:
		return "!"
	}
	return "?"
}

// Badge is the user-facing projection of a status.
type Badge struct {
	Label     string
	Category  Category
	Retryable bool
}

func (b Badge) String() string {
	return fmt.Sprintf("%s %s", b.Category.Symbol(), b.Label)
}

// Project maps a status to its badge. Only error is retryable.
func Project(status models.Status) Badge {
	switch status {
	case models.StatusPending:
		return Badge{Label: "Pending", Category: CategoryNeutral}
	case models.StatusSyncing:
		return Badge{Label: "Syncing", Category: CategoryProgress}
	case models.StatusSynced:
		return Badge{Label: "Synced", Category: CategorySuccess}
	case models.StatusError:
		return Badge{Label: "Sync failed", Category: CategoryDanger, Retryable: true}
	case models.StatusConflict:
		return Badge{Label: "Conflict", Category: CategoryWarning}
	}
	return Badge{Label: "Unknown", Category: CategoryNeutral}
}

// ForOperation refines Project with operation details: a payload the
// server rejected as invalid must be edited, not retried.
func ForOperation(op *models.PendingOperation) Badge {
	b := Project(op.Status)
	if op.Status == models.StatusError && op.Permanent {
		b.Label = "Needs edit"
		b.Retryable = false
	}
	return b
}
