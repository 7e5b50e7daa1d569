// Package subscriptions persists vault and backup-vault subscription records.
package subscriptions

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

type Repository interface {
	// Create fails with common.ErrorConflict when the record exists.
	Create(ctx context.Context, v *models.Vault) error
	// Get fails with common.ErrorNotFound when the record is absent.
	Get(ctx context.Context, userDID string, kind models.SubscriptionKind) (*models.Vault, error)
	List(ctx context.Context, kind models.SubscriptionKind) ([]*models.Vault, error)
	// Update writes plan, limits, times and state of an existing record.
	Update(ctx context.Context, v *models.Vault) error
	// AddFileBytes adds delta to file_bytes_used, clamping at zero.
	AddFileBytes(ctx context.Context, userDID string, kind models.SubscriptionKind, delta int64, now int64) error
	SetUsage(ctx context.Context, userDID string, kind models.SubscriptionKind, fileBytes, dbBytes int64, now int64) error
	SetDBBytes(ctx context.Context, userDID string, kind models.SubscriptionKind, dbBytes int64, now int64) error
	Delete(ctx context.Context, userDID string, kind models.SubscriptionKind) error
}
