package outbox

import (
	"context"

	"github.com/iudanet/farmkeeper/internal/models"
)

//go:generate moq -out remote_mock.go . Remote

// Remote submits one operation to the authoritative store and classifies the answer.
// Implementations must honour ctx cancellation and must not retry on their own.
type Remote interface {
	Submit(ctx context.Context, op *models.PendingOperation) models.Outcome
}
