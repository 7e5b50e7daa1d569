// Package scheduler runs the periodic maintenance passes of a node:
// usage recount, plan expiry with transfer purge, and payment settlement.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/scripting"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"golang.org/x/sync/errgroup"
)

type Intervals struct {
	Recount time.Duration
	Expire  time.Duration
	Settle  time.Duration
}

type Scheduler struct {
	store     *filestore.Store
	ledgers   services.Ledgers
	database  *services.DatabaseService
	files     *services.FileService
	payments  *services.PaymentService
	transfers *scripting.Transfers
	intervals Intervals
	logger    logging.Logger
}

func New(store *filestore.Store, ledgers services.Ledgers, database *services.DatabaseService, files *services.FileService,
	payments *services.PaymentService, transfers *scripting.Transfers, intervals Intervals, logger logging.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		ledgers:   ledgers,
		database:  database,
		files:     files,
		payments:  payments,
		transfers: transfers,
		intervals: intervals,
		logger:    logger.With("module", "scheduler"),
	}
}

// Run drives every pass on its own ticker until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "recount", s.intervals.Recount, s.RecountPass) })
	g.Go(func() error { return s.loop(ctx, "expire", s.intervals.Expire, s.ExpirePass) })
	g.Go(func() error { return s.loop(ctx, "settle", s.intervals.Settle, s.SettlePass) })
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, pass func(context.Context) error) error {
	if every <= 0 {
		s.logger.Warn(ctx, "pass disabled", "pass", name)
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			start := time.Now()
			if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// a failed pass is retried on the next tick
				s.logger.Error(ctx, "pass failed", "pass", name, "error", err)
				continue
			}
			s.logger.Debug(ctx, "pass done", "pass", name, "duration", time.Since(start))
		}
	}
}

// RecountPass replaces the usage counters of every vault and backup vault
// with a fresh directory scan and document store size.
func (s *Scheduler) RecountPass(ctx context.Context) error {
	vaults, err := s.ledgers.Vault.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, v := range vaults {
		if err := ctx.Err(); err != nil {
			return err
		}
		unlock := s.ledgers.Vault.Lock(v.UserDID)
		err := s.files.Recount(ctx, v.UserDID)
		if err == nil {
			err = s.database.Recount(ctx, v.UserDID)
		}
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	backups, err := s.ledgers.Backup.List(ctx)
	if err != nil {
		return err
	}
	for _, v := range backups {
		if err := s.recountBackup(ctx, v.UserDID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) recountBackup(ctx context.Context, user string) error {
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()
	t, err := s.store.BackupTree(user)
	if err != nil {
		return err
	}
	size, err := t.Size()
	if err != nil {
		return err
	}
	return s.ledgers.Backup.SetUsage(ctx, user, size, 0)
}

// ExpirePass downgrades ended plans of both subscription kinds and purges
// transfer handles past their expiry.
func (s *Scheduler) ExpirePass(ctx context.Context) error {
	vaults, err := s.ledgers.Vault.ExpirePass(ctx)
	if err != nil {
		return err
	}
	backups, err := s.ledgers.Backup.ExpirePass(ctx)
	if err != nil {
		return err
	}
	purged, err := s.transfers.Purge(ctx)
	if err != nil {
		return err
	}
	if vaults+backups+purged > 0 {
		s.logger.Info(ctx, "expire pass", "vaults", vaults, "backups", backups, "transfers", purged)
	}
	return nil
}

func (s *Scheduler) SettlePass(ctx context.Context) error {
	applied, expired, err := s.payments.SettlePass(ctx)
	if applied+expired > 0 {
		s.logger.Info(ctx, "settle pass", "applied", applied, "expired", expired)
	}
	return err
}
