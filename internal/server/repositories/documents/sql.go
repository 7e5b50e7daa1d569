package documents

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// SQLRepository works on both postgres (pgx) and sqlite.
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) CreateCollection(ctx context.Context, ns models.Namespace, name string, createdAt int64) (bool, error) {
	query :=
		`INSERT INTO collections (user_did, app_did, name, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_did, app_did, name) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, ns.UserDID, ns.AppDID, name, createdAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) DropCollection(ctx context.Context, ns models.Namespace, name string) (bool, error) {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_did = $1 AND app_did = $2 AND collection = $3`,
		ns.UserDID, ns.AppDID, name); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM collections WHERE user_did = $1 AND app_did = $2 AND name = $3`,
		ns.UserDID, ns.AppDID, name)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) CollectionExists(ctx context.Context, ns models.Namespace, name string) (bool, error) {
	query :=
		`SELECT COUNT(*) FROM collections
		 WHERE user_did = $1 AND app_did = $2 AND name = $3`

	var n int
	if err := r.db.QueryRowContext(ctx, query, ns.UserDID, ns.AppDID, name).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) ListCollections(ctx context.Context, ns models.Namespace) ([]string, error) {
	return r.strings(ctx,
		`SELECT name FROM collections WHERE user_did = $1 AND app_did = $2 ORDER BY name`,
		ns.UserDID, ns.AppDID)
}

func (r *SQLRepository) ListApps(ctx context.Context, userDID string) ([]string, error) {
	return r.strings(ctx,
		`SELECT DISTINCT app_did FROM collections WHERE user_did = $1 ORDER BY app_did`,
		userDID)
}

func (r *SQLRepository) ListNamespaces(ctx context.Context) ([]models.Namespace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_did, app_did FROM collections ORDER BY user_did, app_did`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Namespace
	for rows.Next() {
		var ns models.Namespace
		if err := rows.Scan(&ns.UserDID, &ns.AppDID); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Scan(ctx context.Context, ns models.Namespace, collection string) ([]Document, error) {
	query :=
		`SELECT doc_id, body FROM documents
		 WHERE user_did = $1 AND app_did = $2 AND collection = $3
		 ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, ns.UserDID, ns.AppDID, collection)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d    Document
			body string
		)
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d.Body = []byte(body)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Insert(ctx context.Context, ns models.Namespace, collection string, docs []Document) error {
	query :=
		`INSERT INTO documents (user_did, app_did, collection, doc_id, body)
		 VALUES ($1, $2, $3, $4, $5)`

	for _, d := range docs {
		if _, err := r.db.ExecContext(ctx, query, ns.UserDID, ns.AppDID, collection, d.ID, string(d.Body)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) Replace(ctx context.Context, ns models.Namespace, collection string, doc Document) error {
	query :=
		`UPDATE documents SET body = $1
		 WHERE user_did = $2 AND app_did = $3 AND collection = $4 AND doc_id = $5`

	if _, err := r.db.ExecContext(ctx, query, string(doc.Body), ns.UserDID, ns.AppDID, collection, doc.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Remove(ctx context.Context, ns models.Namespace, collection string, id string) (bool, error) {
	query :=
		`DELETE FROM documents
		 WHERE user_did = $1 AND app_did = $2 AND collection = $3 AND doc_id = $4`

	res, err := r.db.ExecContext(ctx, query, ns.UserDID, ns.AppDID, collection, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) Size(ctx context.Context, userDID string) (int64, error) {
	query := `SELECT COALESCE(SUM(octet_length(body)), 0) FROM documents WHERE user_did = $1`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, userDID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) DropUser(ctx context.Context, userDID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE user_did = $1`, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE user_did = $1`, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
