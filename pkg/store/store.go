package store

import (
	"context"
	"errors"
	"time"

	"topup-fulfillment/pkg/models"
)

var ErrNotFound = errors.New("order not found")

// OrderStore is the persistence port of the orchestrator. Transition is the
// only way status changes, and it reports false when the stored row did not
// satisfy the transition's preconditions.
type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByExternalRef(ctx context.Context, ref string) (*models.Order, error)
	Transition(ctx context.Context, id string, t models.Transition) (bool, error)
	ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.Order, error)
	RecordAttempt(ctx context.Context, orderID, operation string, payload []byte) (int, error)
}
