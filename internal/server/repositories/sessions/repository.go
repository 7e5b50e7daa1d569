// Package sessions persists the backup session record of each user.
package sessions

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

type Repository interface {
	// Get fails with common.ErrorNotFound when the user never ran a session.
	Get(ctx context.Context, userDID string) (*models.BackupSession, error)
	Upsert(ctx context.Context, s *models.BackupSession) error
	Delete(ctx context.Context, userDID string) error
}
