package services

import (
	"context"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
)

// Ledgers pairs the two independent subscription objects of a user.
type Ledgers struct {
	Vault  *quota.Ledger
	Backup *quota.Ledger
}

func (l Ledgers) For(kind models.SubscriptionKind) (*quota.Ledger, error) {
	switch kind {
	case models.KindVault:
		return l.Vault, nil
	case models.KindBackup:
		return l.Backup, nil
	}
	return nil, common.BadRequestf("unknown subscription %q", kind)
}

// SubscriptionService manages the lifecycle of vaults and backup vaults.
type SubscriptionService struct {
	ledgers     Ledgers
	collections *collections.Service
	store       *filestore.Store
	logger      logging.Logger
}

func NewSubscriptionService(ledgers Ledgers, c *collections.Service, store *filestore.Store, logger logging.Logger) *SubscriptionService {
	return &SubscriptionService{ledgers: ledgers, collections: c, store: store, logger: logger.With("module", "subscription")}
}

func (s *SubscriptionService) Subscribe(ctx context.Context, user string, kind models.SubscriptionKind) (*models.Vault, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	v, _, err := l.Subscribe(ctx, user)
	return v, err
}

func (s *SubscriptionService) Get(ctx context.Context, user string, kind models.SubscriptionKind) (*models.Vault, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	return l.Get(ctx, user)
}

// Unsubscribe deletes the vault record and all data stored under it.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, user string, kind models.SubscriptionKind) error {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return err
	}
	unlock := l.Lock(user)
	defer unlock()

	if _, err := l.Get(ctx, user); err != nil {
		return err
	}

	switch kind {
	case models.KindVault:
		if err := s.collections.DropUser(ctx, user); err != nil {
			return err
		}
		if err := s.store.RemoveUser(user); err != nil {
			return err
		}
	case models.KindBackup:
		if err := s.store.RemoveBackup(user); err != nil {
			return err
		}
	}
	if err := l.Unsubscribe(ctx, user); err != nil {
		return err
	}
	s.logger.Info(ctx, "unsubscribed", "user", user, "kind", string(kind))
	return nil
}

// Activate unfreezes the vault.
func (s *SubscriptionService) Activate(ctx context.Context, user string, kind models.SubscriptionKind) (*models.Vault, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	return l.Unfreeze(ctx, user)
}

// Deactivate freezes the vault; reads keep working.
func (s *SubscriptionService) Deactivate(ctx context.Context, user string, kind models.SubscriptionKind) (*models.Vault, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	return l.Freeze(ctx, user)
}
