package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Get(ctx context.Context, userDID string) (*models.BackupSession, error) {
	query :=
		`SELECT user_did, action, state, message, remote_endpoint, remote_token, updated_at
		 FROM backup_sessions WHERE user_did = $1`

	var (
		s             models.BackupSession
		action, state string
	)
	err := r.db.QueryRowContext(ctx, query, userDID).Scan(&s.UserDID, &action, &state, &s.Message,
		&s.RemoteEndpoint, &s.RemoteToken, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFoundf("backup session of %s", userDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.Action = models.BackupAction(action)
	s.State = models.BackupState(state)
	return &s, nil
}

func (r *SQLRepository) Upsert(ctx context.Context, s *models.BackupSession) error {
	query :=
		`INSERT INTO backup_sessions (user_did, action, state, message, remote_endpoint, remote_token, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_did) DO UPDATE SET
		     action = excluded.action,
		     state = excluded.state,
		     message = excluded.message,
		     remote_endpoint = excluded.remote_endpoint,
		     remote_token = excluded.remote_token,
		     updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, s.UserDID, string(s.Action), string(s.State), s.Message,
		s.RemoteEndpoint, s.RemoteToken, s.UpdatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, userDID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM backup_sessions WHERE user_did = $1`, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
