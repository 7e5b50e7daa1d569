package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

const columns = `id, user_did, kind, plan_name, amount, currency, state, transaction_id, created_at, paid_at, applied_at`

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, o *models.Order) error {
	query :=
		`INSERT INTO orders (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query, o.ID, o.UserDID, string(o.Kind), o.PlanName, o.Amount, o.Currency,
		string(o.State), o.TransactionID, o.CreatedAt, o.PaidAt, o.AppliedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFoundf("order %s", id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}

func (r *SQLRepository) ListByState(ctx context.Context, state models.OrderState) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM orders WHERE state = $1 ORDER BY created_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Transition(ctx context.Context, id string, from, to models.OrderState, txID string, at int64) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch to {
	case models.OrderPaid:
		res, err = r.db.ExecContext(ctx,
			`UPDATE orders SET state = $1, transaction_id = $2, paid_at = $3 WHERE id = $4 AND state = $5`,
			string(to), txID, at, id, string(from))
	case models.OrderApplied:
		res, err = r.db.ExecContext(ctx,
			`UPDATE orders SET state = $1, applied_at = $2 WHERE id = $3 AND state = $4`,
			string(to), at, id, string(from))
	default:
		res, err = r.db.ExecContext(ctx,
			`UPDATE orders SET state = $1 WHERE id = $2 AND state = $3`,
			string(to), id, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*models.Order, error) {
	var (
		o           models.Order
		kind, state string
	)
	if err := s.Scan(&o.ID, &o.UserDID, &kind, &o.PlanName, &o.Amount, &o.Currency, &state,
		&o.TransactionID, &o.CreatedAt, &o.PaidAt, &o.AppliedAt); err != nil {
		return nil, err
	}
	o.Kind = models.SubscriptionKind(kind)
	o.State = models.OrderState(state)
	return &o, nil
}
