package services

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
)

// DatabaseService gates collection operations on the vault ledger and keeps
// the database counter current after every write.
type DatabaseService struct {
	collections *collections.Service
	ledger      *quota.Ledger
	logger      logging.Logger
}

func NewDatabaseService(c *collections.Service, ledger *quota.Ledger, logger logging.Logger) *DatabaseService {
	return &DatabaseService{collections: c, ledger: ledger, logger: logger.With("module", "database")}
}

func (s *DatabaseService) Collections() *collections.Service { return s.collections }

// Recount writes the store-side size of the user's documents to the ledger.
func (s *DatabaseService) Recount(ctx context.Context, user string) error {
	size, err := s.collections.Size(ctx, user)
	if err != nil {
		return err
	}
	return s.ledger.SetDBBytes(ctx, user, size)
}

// write runs fn under the vault lock after the gate passed and recounts.
func (s *DatabaseService) write(ctx context.Context, user string, mode quota.Mode, fn func() error) error {
	unlock := s.ledger.Lock(user)
	defer unlock()

	if _, err := s.ledger.CheckAccess(ctx, user, mode, 0); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.Recount(ctx, user)
}

func (s *DatabaseService) read(ctx context.Context, user string) error {
	_, err := s.ledger.CheckAccess(ctx, user, quota.ModeRead, 0)
	return err
}

func (s *DatabaseService) CreateCollection(ctx context.Context, ns models.Namespace, name string) error {
	if err := collections.ValidateName(name); err != nil {
		return err
	}
	return s.write(ctx, ns.UserDID, quota.ModeWrite, func() error {
		return s.collections.CreateCollection(ctx, ns, name)
	})
}

func (s *DatabaseService) DropCollection(ctx context.Context, ns models.Namespace, name string) error {
	if err := collections.ValidateName(name); err != nil {
		return err
	}
	return s.write(ctx, ns.UserDID, quota.ModeDelete, func() error {
		return s.collections.DropCollection(ctx, ns, name)
	})
}

func (s *DatabaseService) InsertMany(ctx context.Context, ns models.Namespace, name string, docs []collections.Document, opts collections.InsertOptions) (*collections.InsertResult, error) {
	if err := collections.ValidateName(name); err != nil {
		return nil, err
	}
	var res *collections.InsertResult
	err := s.write(ctx, ns.UserDID, quota.ModeWrite, func() (err error) {
		res, err = s.collections.InsertMany(ctx, ns, name, docs, opts)
		return err
	})
	return res, err
}

func (s *DatabaseService) Update(ctx context.Context, ns models.Namespace, name string, filter, update map[string]any, opts collections.UpdateOptions) (*collections.UpdateResult, error) {
	if err := collections.ValidateName(name); err != nil {
		return nil, err
	}
	var res *collections.UpdateResult
	err := s.write(ctx, ns.UserDID, quota.ModeWrite, func() (err error) {
		res, err = s.collections.Update(ctx, ns, name, filter, update, opts)
		return err
	})
	return res, err
}

func (s *DatabaseService) Delete(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts collections.DeleteOptions) (*collections.DeleteResult, error) {
	if err := collections.ValidateName(name); err != nil {
		return nil, err
	}
	var res *collections.DeleteResult
	err := s.write(ctx, ns.UserDID, quota.ModeDelete, func() (err error) {
		res, err = s.collections.Delete(ctx, ns, name, filter, opts)
		return err
	})
	return res, err
}

func (s *DatabaseService) Find(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts collections.FindOptions) ([]collections.Document, error) {
	if err := collections.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.read(ctx, ns.UserDID); err != nil {
		return nil, err
	}
	return s.collections.Find(ctx, ns, name, filter, opts)
}

func (s *DatabaseService) Count(ctx context.Context, ns models.Namespace, name string, filter map[string]any, opts collections.CountOptions) (int64, error) {
	if err := collections.ValidateName(name); err != nil {
		return 0, err
	}
	if err := s.read(ctx, ns.UserDID); err != nil {
		return 0, err
	}
	return s.collections.Count(ctx, ns, name, filter, opts)
}

// Reserved runs fn against the collection service for the node's own
// collections of user, bypassing name validation. The gate for mode applies
// and the database counter is recounted afterwards.
func (s *DatabaseService) Reserved(ctx context.Context, user string, mode quota.Mode, fn func(c *collections.Service) error) error {
	return s.write(ctx, user, mode, func() error { return fn(s.collections) })
}

// Ledger is the vault ledger the service gates on.
func (s *DatabaseService) Ledger() *quota.Ledger { return s.ledger }
