// Package quota keeps the per-vault storage counters and the plan state
// machine, and gates every data access on them.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultnode/internal/syncx"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
)

// Mode is the kind of access a caller asks for.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeDelete
)

const secondsPerDay = 86400

// Ledger manages one subscription kind: live vaults or backup vaults.
type Ledger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	kind        models.SubscriptionKind
	plans       *Plans
	clock       timex.Clock
	locks       *syncx.KeyedMutex
	logger      logging.Logger
}

func NewLedger(db *sql.DB, rm repomanager.RepositoryManager, kind models.SubscriptionKind, plans *Plans, clock timex.Clock, logger logging.Logger) *Ledger {
	return &Ledger{
		db:          db,
		repomanager: rm,
		kind:        kind,
		plans:       plans,
		clock:       clock,
		locks:       syncx.NewKeyedMutex(),
		logger:      logger.With("module", "quota", "kind", string(kind)),
	}
}

func (l *Ledger) Kind() models.SubscriptionKind { return l.kind }
func (l *Ledger) Plans() *Plans                 { return l.plans }

func (l *Ledger) now() int64 { return l.clock.Now().Unix() }

// Lock serialises gated work on one vault.
func (l *Ledger) Lock(user string) (unlock func()) {
	return l.locks.Lock(string(l.kind) + "/" + user)
}

func (l *Ledger) Get(ctx context.Context, user string) (*models.Vault, error) {
	return l.repomanager.Subscriptions(l.db).Get(ctx, user, l.kind)
}

// Subscribe creates the vault on the free plan. An existing vault is
// returned unchanged with created set to false.
func (l *Ledger) Subscribe(ctx context.Context, user string) (v *models.Vault, created bool, err error) {
	repo := l.repomanager.Subscriptions(l.db)
	if v, err := repo.Get(ctx, user, l.kind); err == nil {
		return v, false, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, false, err
	}

	free := l.plans.Free()
	now := l.now()
	v = &models.Vault{
		UserDID:   user,
		Kind:      l.kind,
		PlanName:  free.Name,
		MaxBytes:  free.MaxBytes,
		StartTime: now,
		EndTime:   endTime(free, now),
		State:     models.StateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, v); err != nil {
		if errors.Is(err, common.ErrorConflict) {
			existing, gerr := repo.Get(ctx, user, l.kind)
			return existing, false, gerr
		}
		return nil, false, err
	}
	l.logger.Info(ctx, "vault subscribed", "user", user)
	return v, true, nil
}

func endTime(p models.Plan, now int64) int64 {
	if p.Unlimited() {
		return models.NoExpiry
	}
	return now + int64(p.DurationDays)*secondsPerDay
}

// Allow checks the vault against mode. incoming is the number of bytes a
// write is known to add, or zero.
func Allow(v *models.Vault, mode Mode, incoming int64) error {
	if mode == ModeRead {
		return nil
	}
	if v.State == models.StateFrozen {
		return fmt.Errorf("%w: %s", common.ErrorFrozen, v.UserDID)
	}
	if mode == ModeDelete {
		return nil
	}
	used := v.BytesUsed()
	if used > v.MaxBytes || (incoming > 0 && used+incoming > v.MaxBytes) {
		return fmt.Errorf("%w: %d of %d bytes used", common.ErrorOverQuota, used, v.MaxBytes)
	}
	return nil
}

// CheckAccess fails with not_found, frozen or over_quota.
func (l *Ledger) CheckAccess(ctx context.Context, user string, mode Mode, incoming int64) (*models.Vault, error) {
	v, err := l.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := Allow(v, mode, incoming); err != nil {
		return nil, err
	}
	return v, nil
}

// AddFileBytes moves the file counter by delta, never below zero.
func (l *Ledger) AddFileBytes(ctx context.Context, user string, delta int64) error {
	if delta == 0 {
		return nil
	}
	return l.repomanager.Subscriptions(l.db).AddFileBytes(ctx, user, l.kind, delta, l.now())
}

func (l *Ledger) SetDBBytes(ctx context.Context, user string, n int64) error {
	return l.repomanager.Subscriptions(l.db).SetDBBytes(ctx, user, l.kind, nonNegative(n), l.now())
}

func (l *Ledger) SetUsage(ctx context.Context, user string, fileBytes, dbBytes int64) error {
	return l.repomanager.Subscriptions(l.db).SetUsage(ctx, user, l.kind, nonNegative(fileBytes), nonNegative(dbBytes), l.now())
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func (l *Ledger) setState(ctx context.Context, user string, state models.VaultState) (*models.Vault, error) {
	return dbx.WithTxValue(ctx, l.db, func(ctx context.Context, tx dbx.DBTX) (*models.Vault, error) {
		repo := l.repomanager.Subscriptions(tx)
		v, err := repo.Get(ctx, user, l.kind)
		if err != nil {
			return nil, err
		}
		v.State = state
		v.UpdatedAt = l.now()
		return v, repo.Update(ctx, v)
	})
}

func (l *Ledger) Freeze(ctx context.Context, user string) (*models.Vault, error) {
	return l.setState(ctx, user, models.StateFrozen)
}

func (l *Ledger) Unfreeze(ctx context.Context, user string) (*models.Vault, error) {
	return l.setState(ctx, user, models.StateRunning)
}

// ApplyPlan moves the vault onto plan starting now.
func (l *Ledger) ApplyPlan(ctx context.Context, user string, plan models.Plan) (*models.Vault, error) {
	v, err := dbx.WithTxValue(ctx, l.db, func(ctx context.Context, tx dbx.DBTX) (*models.Vault, error) {
		repo := l.repomanager.Subscriptions(tx)
		v, err := repo.Get(ctx, user, l.kind)
		if err != nil {
			return nil, err
		}
		now := l.now()
		v.PlanName = plan.Name
		v.MaxBytes = plan.MaxBytes
		v.StartTime = now
		v.EndTime = endTime(plan, now)
		v.UpdatedAt = now
		return v, repo.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info(ctx, "plan applied", "user", user, "plan", plan.Name, "end_time", v.EndTime)
	return v, nil
}

// Restore creates or overwrites the vault record with the plan and usage
// of v, running. Promotion of a backup uses it.
func (l *Ledger) Restore(ctx context.Context, v *models.Vault) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := l.repomanager.Subscriptions(tx)
		next := *v
		next.Kind = l.kind
		next.State = models.StateRunning
		next.UpdatedAt = l.now()
		if _, err := repo.Get(ctx, v.UserDID, l.kind); err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			next.CreatedAt = next.UpdatedAt
			return repo.Create(ctx, &next)
		}
		if err := repo.Update(ctx, &next); err != nil {
			return err
		}
		return repo.SetUsage(ctx, next.UserDID, l.kind, next.FileBytesUsed, next.DBBytesUsed, next.UpdatedAt)
	})
}

// ExpirePass downgrades every running vault whose paid plan ended to the
// free plan and returns how many were downgraded. State is left alone:
// writes fail closed by the quota gate while usage exceeds the free limit.
// Frozen vaults keep their plan until they run again.
func (l *Ledger) ExpirePass(ctx context.Context) (int, error) {
	vaults, err := l.repomanager.Subscriptions(l.db).List(ctx, l.kind)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, v := range vaults {
		if !l.expired(v, l.now()) {
			continue
		}
		unlock := l.Lock(v.UserDID)
		downgraded, err := l.expire(ctx, v.UserDID)
		unlock()
		if err != nil {
			return n, err
		}
		if downgraded {
			l.logger.Info(ctx, "plan expired", "user", v.UserDID)
			n++
		}
	}
	return n, nil
}

func (l *Ledger) expired(v *models.Vault, now int64) bool {
	return v.State == models.StateRunning && v.PlanName != l.plans.Free().Name &&
		v.EndTime != models.NoExpiry && v.EndTime <= now
}

// expire downgrades the current record of user if it is still expired.
// The record is read again because it may have changed since the listing.
func (l *Ledger) expire(ctx context.Context, user string) (bool, error) {
	return dbx.WithTxValue(ctx, l.db, func(ctx context.Context, tx dbx.DBTX) (bool, error) {
		repo := l.repomanager.Subscriptions(tx)
		v, err := repo.Get(ctx, user, l.kind)
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		now := l.now()
		if !l.expired(v, now) {
			return false, nil
		}
		free := l.plans.Free()
		v.PlanName = free.Name
		v.MaxBytes = free.MaxBytes
		v.StartTime = now
		v.EndTime = models.NoExpiry
		v.UpdatedAt = now
		return true, repo.Update(ctx, v)
	})
}

func (l *Ledger) List(ctx context.Context) ([]*models.Vault, error) {
	return l.repomanager.Subscriptions(l.db).List(ctx, l.kind)
}

// Unsubscribe removes the record. Data removal is the caller's concern.
func (l *Ledger) Unsubscribe(ctx context.Context, user string) error {
	return l.repomanager.Subscriptions(l.db).Delete(ctx, user, l.kind)
}
