// Package orders persists payment orders for plan changes.
package orders

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByState(ctx context.Context, state models.OrderState) ([]*models.Order, error)
	// Transition moves an order from one state to another and records the
	// supplied fields. It reports false when the order is not in state from.
	Transition(ctx context.Context, id string, from, to models.OrderState, txID string, at int64) (bool, error)
}
