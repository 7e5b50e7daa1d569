package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

const columns = `user_did, kind, plan_name, max_bytes, file_bytes_used, db_bytes_used,
		 start_time, end_time, state, created_at, updated_at`

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, v *models.Vault) error {
	query :=
		`INSERT INTO subscriptions (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_did, kind) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		v.UserDID, string(v.Kind), v.PlanName, v.MaxBytes, v.FileBytesUsed, v.DBBytesUsed,
		v.StartTime, v.EndTime, string(v.State), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.Conflictf("%s subscription of %s exists", v.Kind, v.UserDID)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, userDID string, kind models.SubscriptionKind) (*models.Vault, error) {
	query := `SELECT ` + columns + ` FROM subscriptions WHERE user_did = $1 AND kind = $2`

	v, err := scanVault(r.db.QueryRowContext(ctx, query, userDID, string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFoundf("%s subscription of %s", kind, userDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *SQLRepository) List(ctx context.Context, kind models.SubscriptionKind) ([]*models.Vault, error) {
	query := `SELECT ` + columns + ` FROM subscriptions WHERE kind = $1 ORDER BY user_did`

	rows, err := r.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Update(ctx context.Context, v *models.Vault) error {
	query :=
		`UPDATE subscriptions
		 SET plan_name = $1, max_bytes = $2, start_time = $3, end_time = $4, state = $5, updated_at = $6
		 WHERE user_did = $7 AND kind = $8`

	res, err := r.db.ExecContext(ctx, query,
		v.PlanName, v.MaxBytes, v.StartTime, v.EndTime, string(v.State), v.UpdatedAt, v.UserDID, string(v.Kind))
	return affectedOne(res, err, v.UserDID, v.Kind)
}

func (r *SQLRepository) AddFileBytes(ctx context.Context, userDID string, kind models.SubscriptionKind, delta int64, now int64) error {
	query :=
		`UPDATE subscriptions
		 SET file_bytes_used = CASE WHEN file_bytes_used + $1 < 0 THEN 0 ELSE file_bytes_used + $1 END,
		     updated_at = $2
		 WHERE user_did = $3 AND kind = $4`

	res, err := r.db.ExecContext(ctx, query, delta, now, userDID, string(kind))
	return affectedOne(res, err, userDID, kind)
}

func (r *SQLRepository) SetUsage(ctx context.Context, userDID string, kind models.SubscriptionKind, fileBytes, dbBytes int64, now int64) error {
	query :=
		`UPDATE subscriptions SET file_bytes_used = $1, db_bytes_used = $2, updated_at = $3
		 WHERE user_did = $4 AND kind = $5`

	res, err := r.db.ExecContext(ctx, query, fileBytes, dbBytes, now, userDID, string(kind))
	return affectedOne(res, err, userDID, kind)
}

func (r *SQLRepository) SetDBBytes(ctx context.Context, userDID string, kind models.SubscriptionKind, dbBytes int64, now int64) error {
	query :=
		`UPDATE subscriptions SET db_bytes_used = $1, updated_at = $2
		 WHERE user_did = $3 AND kind = $4`

	res, err := r.db.ExecContext(ctx, query, dbBytes, now, userDID, string(kind))
	return affectedOne(res, err, userDID, kind)
}

func (r *SQLRepository) Delete(ctx context.Context, userDID string, kind models.SubscriptionKind) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_did = $1 AND kind = $2`, userDID, string(kind)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVault(s scanner) (*models.Vault, error) {
	var (
		v            models.Vault
		kind, status string
	)
	err := s.Scan(&v.UserDID, &kind, &v.PlanName, &v.MaxBytes, &v.FileBytesUsed, &v.DBBytesUsed,
		&v.StartTime, &v.EndTime, &status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Kind = models.SubscriptionKind(kind)
	v.State = models.VaultState(status)
	return &v, nil
}

func affectedOne(res sql.Result, err error, userDID string, kind models.SubscriptionKind) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.NotFoundf("%s subscription of %s", kind, userDID)
	}
	return nil
}
