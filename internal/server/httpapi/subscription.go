package httpapi

import (
	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"go.sia.tech/jape"
)

type (
	orderRequest struct {
		Kind     models.SubscriptionKind `json:"subscription"`
		PlanName string                  `json:"pricing_name"`
	}

	settleRequest struct {
		TransactionID string `json:"transaction_id"`
	}
)

func kindOf(jc jape.Context) models.SubscriptionKind {
	return models.SubscriptionKind(jc.Request.PathValue("kind"))
}

func (s *Server) handleSubscribe(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	v, err := s.svc.Subscriptions.Subscribe(jc.Request.Context(), id.UserDID, kindOf(jc))
	if check(jc, err) {
		return
	}
	jc.Encode(v)
}

func (s *Server) handleSubscription(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	v, err := s.svc.Subscriptions.Get(jc.Request.Context(), id.UserDID, kindOf(jc))
	if check(jc, err) {
		return
	}
	jc.Encode(v)
}

func (s *Server) handleUnsubscribe(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	check(jc, s.svc.Subscriptions.Unsubscribe(jc.Request.Context(), id.UserDID, kindOf(jc)))
}

// handleSubscriptionOp unfreezes (op=activate) or freezes (op=deactivate).
func (s *Server) handleSubscriptionOp(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	ctx := jc.Request.Context()
	var (
		v   *models.Vault
		err error
	)
	switch op := jc.Request.URL.Query().Get("op"); op {
	case "activate":
		v, err = s.svc.Subscriptions.Activate(ctx, id.UserDID, kindOf(jc))
	case "deactivate":
		v, err = s.svc.Subscriptions.Deactivate(ctx, id.UserDID, kindOf(jc))
	default:
		err = common.BadRequestf("unknown op %q", op)
	}
	if check(jc, err) {
		return
	}
	jc.Encode(v)
}

func (s *Server) handlePlans(jc jape.Context) {
	kind := models.KindVault
	if k := jc.Request.URL.Query().Get("subscription"); k != "" {
		kind = models.SubscriptionKind(k)
	}
	plans, err := s.svc.Payments.Plans(kind)
	if check(jc, err) {
		return
	}
	jc.Encode(plans)
}

func (s *Server) handleCreateOrder(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var req orderRequest
	if jc.Decode(&req) != nil {
		return
	}
	o, err := s.svc.Payments.CreateOrder(jc.Request.Context(), id.UserDID, req.Kind, req.PlanName)
	if check(jc, err) {
		return
	}
	jc.Encode(o)
}

func (s *Server) handleOrder(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	o, err := s.svc.Payments.GetOrder(jc.Request.Context(), id.UserDID, jc.Request.PathValue("id"))
	if check(jc, err) {
		return
	}
	jc.Encode(o)
}

// handleSettle is called by the payment watcher once a transaction settled.
func (s *Server) handleSettle(jc jape.Context) {
	var req settleRequest
	if jc.Decode(&req) != nil {
		return
	}
	if req.TransactionID == "" {
		writeError(jc, common.BadRequestf("transaction_id is required"))
		return
	}
	o, err := s.svc.Payments.Settle(jc.Request.Context(), jc.Request.PathValue("id"), req.TransactionID)
	if check(jc, err) {
		return
	}
	jc.Encode(o)
}
