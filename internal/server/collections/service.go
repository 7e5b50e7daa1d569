// Package collections implements collection and document operations for a
// (user, app) namespace on top of the documents repository.
package collections

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/query"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/documents"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/google/uuid"
)

type Document = query.Document

// Service owns document semantics: ids, timestamps, filters and updates.
type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       timex.Clock
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, clock timex.Clock) *Service {
	return &Service{db: db, repomanager: repomanager, clock: clock}
}

// ValidateName rejects names callers may not use directly.
func ValidateName(name string) error {
	if name == "" {
		return common.BadRequestf("collection name is empty")
	}
	if strings.HasPrefix(name, common.ReservedPrefix) {
		return common.BadRequestf("collection name %q is reserved", name)
	}
	return nil
}

func (s *Service) now() int64 { return s.clock.Now().Unix() }

// CreateCollection fails with conflict when the collection exists.
func (s *Service) CreateCollection(ctx context.Context, ns models.Namespace, name string) error {
	created, err := s.repomanager.Documents(s.db).CreateCollection(ctx, ns, name, s.now())
	if err != nil {
		return err
	}
	if !created {
		return common.Conflictf("collection %s already exists", name)
	}
	return nil
}

// EnsureCollection creates the collection when missing.
func (s *Service) EnsureCollection(ctx context.Context, ns models.Namespace, name string) error {
	_, err := s.repomanager.Documents(s.db).CreateCollection(ctx, ns, name, s.now())
	return err
}

// DropCollection is idempotent.
func (s *Service) DropCollection(ctx context.Context, ns models.Namespace, name string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.Documents(tx).DropCollection(ctx, ns, name)
		return err
	})
}

func (s *Service) ListCollections(ctx context.Context, ns models.Namespace) ([]string, error) {
	return s.repomanager.Documents(s.db).ListCollections(ctx, ns)
}

// Apps returns the app ids of a user that own collections.
func (s *Service) Apps(ctx context.Context, userDID string) ([]string, error) {
	return s.repomanager.Documents(s.db).ListApps(ctx, userDID)
}

// Namespaces returns every namespace that owns collections.
func (s *Service) Namespaces(ctx context.Context) ([]models.Namespace, error) {
	return s.repomanager.Documents(s.db).ListNamespaces(ctx)
}

// Size is the database byte size of all documents of a user.
func (s *Service) Size(ctx context.Context, userDID string) (int64, error) {
	return s.repomanager.Documents(s.db).Size(ctx, userDID)
}

func (s *Service) DropUser(ctx context.Context, userDID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Documents(tx).DropUser(ctx, userDID)
	})
}

func requireCollection(ctx context.Context, repo documents.Repository, ns models.Namespace, name string) error {
	ok, err := repo.CollectionExists(ctx, ns, name)
	if err != nil {
		return err
	}
	if !ok {
		return common.NotFoundf("collection %s", name)
	}
	return nil
}

func decode(rows []documents.Document) ([]Document, error) {
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		var d Document
		if err := json.Unmarshal(r.Body, &d); err != nil {
			return nil, fmt.Errorf("corrupt document %s: %w", r.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func encode(d Document) (documents.Document, error) {
	id, _ := d[query.FieldID].(string)
	body, err := json.Marshal(d)
	if err != nil {
		return documents.Document{}, common.BadRequestf("document is not serialisable: %v", err)
	}
	return documents.Document{ID: id, Body: body}, nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// InsertMany stores docs in order. Documents without _id receive one.
func (s *Service) InsertMany(ctx context.Context, ns models.Namespace, name string, docs []Document, opts InsertOptions) (*InsertResult, error) {
	if len(docs) == 0 {
		return nil, common.BadRequestf("no documents to insert")
	}
	now := s.now()

	rows := make([]documents.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		d = query.Clone(d)
		switch v := d[query.FieldID].(type) {
		case nil:
			id, err := newID()
			if err != nil {
				return nil, err
			}
			d[query.FieldID] = id
		case string:
			if v == "" {
				return nil, common.BadRequestf("empty _id")
			}
		default:
			return nil, common.BadRequestf("_id must be a string")
		}
		if stamp(opts.Timestamp) {
			d[query.FieldCreated] = now
			d[query.FieldModified] = now
		}
		row, err := encode(d)
		if err != nil {
			return nil, err
		}
		if seen[row.ID] {
			return nil, common.Conflictf("duplicate _id %s", row.ID)
		}
		seen[row.ID] = true
		rows = append(rows, row)
		ids = append(ids, row.ID)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Documents(tx)
		if err := requireCollection(ctx, repo, ns, name); err != nil {
			return err
		}
		existing, err := repo.Scan(ctx, ns, name)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if seen[e.ID] {
				return common.Conflictf("duplicate _id %s", e.ID)
			}
		}
		return repo.Insert(ctx, ns, name, rows)
	})
	if err != nil {
		return nil, err
	}
	return &InsertResult{Acknowledged: true, InsertedIDs: ids}, nil
}

// matching returns the documents of a collection that satisfy filter, in
// insertion order.
func matching(ctx context.Context, repo documents.Repository, ns models.Namespace, name string, filter map[string]any) ([]Document, error) {
	if err := requireCollection(ctx, repo, ns, name); err != nil {
		return nil, err
	}
	rows, err := repo.Scan(ctx, ns, name)
	if err != nil {
		return nil, err
	}
	docs, err := decode(rows)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		ok, err := query.Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func window[T any](items []T, skip, limit int64) []T {
	if skip < 0 || limit < 0 {
		return nil
	}
	if skip >= int64(len(items)) {
		return items[:0]
	}
	items = items[skip:]
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}

// Find returns matching documents after sort, skip, limit and projection.
func (s *Service) Find(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts FindOptions) ([]Document, error) {
	if opts.Skip < 0 || opts.Limit < 0 {
		return nil, common.BadRequestf("skip and limit must not be negative")
	}
	keys, err := query.ParseSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	docs, err := matching(ctx, s.repomanager.Documents(s.db), ns, name, filter)
	if err != nil {
		return nil, err
	}
	query.Sort(docs, keys)
	docs = window(docs, opts.Skip, opts.Limit)

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		p, err := query.Project(d, opts.Projection)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) Count(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts CountOptions) (int64, error) {
	if opts.Skip < 0 || opts.Limit < 0 {
		return 0, common.BadRequestf("skip and limit must not be negative")
	}
	docs, err := matching(ctx, s.repomanager.Documents(s.db), ns, name, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(window(docs, opts.Skip, opts.Limit))), nil
}

// Update applies update to the first matching document, or to all of them
// with opts.Many. With opts.Upsert and no match a new document is built
// from the filter's equality fields.
func (s *Service) Update(ctx context.Context, ns models.Namespace, name string, filter, update map[string]any, opts UpdateOptions) (*UpdateResult, error) {
	if len(update) == 0 {
		return nil, common.BadRequestf("empty update")
	}
	if _, err := query.IsOperatorUpdate(update); err != nil {
		return nil, err
	}
	now := s.now()
	ts := stamp(opts.Timestamp)

	return dbx.WithTxValue(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) (*UpdateResult, error) {
		repo := s.repomanager.Documents(tx)
		docs, err := matching(ctx, repo, ns, name, filter)
		if err != nil {
			return nil, err
		}
		res := &UpdateResult{Acknowledged: true}

		if len(docs) == 0 {
			if !opts.Upsert {
				return res, nil
			}
			d, _, err := query.Apply(query.Seed(filter), update, true)
			if err != nil {
				return nil, err
			}
			if _, ok := d[query.FieldID]; !ok {
				id, err := newID()
				if err != nil {
					return nil, err
				}
				d[query.FieldID] = id
			}
			if ts {
				d[query.FieldCreated] = now
				d[query.FieldModified] = now
			}
			row, err := encode(d)
			if err != nil {
				return nil, err
			}
			if row.ID == "" {
				return nil, common.BadRequestf("_id must be a string")
			}
			if err := repo.Insert(ctx, ns, name, []documents.Document{row}); err != nil {
				return nil, err
			}
			res.UpsertedID = &row.ID
			return res, nil
		}

		if !opts.Many {
			docs = docs[:1]
		}
		for _, d := range docs {
			res.MatchedCount++
			next, modified, err := query.Apply(d, update, false)
			if err != nil {
				return nil, err
			}
			if !modified {
				continue
			}
			if ts {
				next[query.FieldModified] = now
			}
			row, err := encode(next)
			if err != nil {
				return nil, err
			}
			if err := repo.Replace(ctx, ns, name, row); err != nil {
				return nil, err
			}
			res.ModifiedCount++
		}
		return res, nil
	})
}

// Delete removes the first matching document, or all of them with
// opts.Many. A missing collection deletes nothing.
func (s *Service) Delete(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts DeleteOptions) (*DeleteResult, error) {
	return dbx.WithTxValue(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) (*DeleteResult, error) {
		repo := s.repomanager.Documents(tx)
		res := &DeleteResult{Acknowledged: true}

		docs, err := matching(ctx, repo, ns, name, filter)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return res, nil
			}
			return nil, err
		}
		if !opts.Many && len(docs) > 1 {
			docs = docs[:1]
		}
		for _, d := range docs {
			id, _ := d[query.FieldID].(string)
			removed, err := repo.Remove(ctx, ns, name, id)
			if err != nil {
				return nil, err
			}
			if removed {
				res.DeletedCount++
			}
		}
		return res, nil
	})
}
