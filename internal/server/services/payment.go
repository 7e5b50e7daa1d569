package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/google/uuid"
)

// PaymentService turns paid orders into plan changes.
type PaymentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ledgers     Ledgers
	clock       timex.Clock
	wait        time.Duration
	logger      logging.Logger
}

func NewPaymentService(db *sql.DB, rm repomanager.RepositoryManager, ledgers Ledgers, clock timex.Clock, wait time.Duration, logger logging.Logger) *PaymentService {
	return &PaymentService{
		db:          db,
		repomanager: rm,
		ledgers:     ledgers,
		clock:       clock,
		wait:        wait,
		logger:      logger.With("module", "payment"),
	}
}

// Plans lists the catalogue of a subscription kind.
func (s *PaymentService) Plans(kind models.SubscriptionKind) ([]models.Plan, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	return l.Plans().List(), nil
}

// CreateOrder opens a pending order to move the user's subscription onto
// plan. The subscription must exist and the plan must cost something.
func (s *PaymentService) CreateOrder(ctx context.Context, user string, kind models.SubscriptionKind, planName string) (*models.Order, error) {
	l, err := s.ledgers.For(kind)
	if err != nil {
		return nil, err
	}
	if _, err := l.Get(ctx, user); err != nil {
		return nil, err
	}
	plan, err := l.Plans().Get(planName)
	if err != nil {
		return nil, err
	}
	if plan.Amount <= 0 {
		return nil, common.BadRequestf("plan %s is free", plan.Name)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	o := &models.Order{
		ID:        id.String(),
		UserDID:   user,
		Kind:      kind,
		PlanName:  plan.Name,
		Amount:    plan.Amount,
		Currency:  plan.Currency,
		State:     models.OrderPending,
		CreatedAt: s.clock.Now().Unix(),
	}
	if err := s.repomanager.Orders(s.db).Create(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "order created", "order", o.ID, "user", user, "plan", plan.Name)
	return o, nil
}

// GetOrder returns an order of user; other users' orders are not found.
func (s *PaymentService) GetOrder(ctx context.Context, user, id string) (*models.Order, error) {
	o, err := s.repomanager.Orders(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserDID != user {
		return nil, common.NotFoundf("order %s", id)
	}
	return o, nil
}

// Settle records the payment of a pending order. The plan is applied by
// the next settle pass.
func (s *PaymentService) Settle(ctx context.Context, id, txID string) (*models.Order, error) {
	if txID == "" {
		return nil, common.BadRequestf("transaction id is required")
	}
	repo := s.repomanager.Orders(s.db)
	ok, err := repo.Transition(ctx, id, models.OrderPending, models.OrderPaid, txID, s.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	o, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.Conflictf("order %s is %s", id, o.State)
	}
	s.logger.Info(ctx, "order paid", "order", id, "transaction", txID)
	return o, nil
}

// SettlePass applies paid orders and expires pending orders older than the
// payment wait window. It is safe to run repeatedly.
func (s *PaymentService) SettlePass(ctx context.Context) (applied, expired int, err error) {
	repo := s.repomanager.Orders(s.db)
	now := s.clock.Now()

	paid, err := repo.ListByState(ctx, models.OrderPaid)
	if err != nil {
		return 0, 0, err
	}
	for _, o := range paid {
		l, err := s.ledgers.For(o.Kind)
		if err != nil {
			return applied, expired, err
		}
		plan, err := l.Plans().Get(o.PlanName)
		if err != nil {
			return applied, expired, err
		}
		unlock := l.Lock(o.UserDID)
		_, err = l.ApplyPlan(ctx, o.UserDID, plan)
		unlock()
		if err != nil {
			s.logger.Warn(ctx, "apply plan failed", "order", o.ID, "error", err)
			continue
		}
		if _, err := repo.Transition(ctx, o.ID, models.OrderPaid, models.OrderApplied, o.TransactionID, now.Unix()); err != nil {
			return applied, expired, err
		}
		applied++
	}

	pending, err := repo.ListByState(ctx, models.OrderPending)
	if err != nil {
		return applied, expired, err
	}
	deadline := now.Add(-s.wait).Unix()
	for _, o := range pending {
		if o.CreatedAt > deadline {
			continue
		}
		ok, err := repo.Transition(ctx, o.ID, models.OrderPending, models.OrderExpired, "", now.Unix())
		if err != nil {
			return applied, expired, err
		}
		if ok {
			expired++
		}
	}
	if applied > 0 || expired > 0 {
		s.logger.Info(ctx, "settle pass", "applied", applied, "expired", expired)
	}
	return applied, expired, nil
}
