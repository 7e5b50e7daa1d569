package models

// OrderState is the payment order lifecycle: pending → paid → applied, or
// pending → expired when the payment wait window passes.
type OrderState string

const (
	OrderPending OrderState = "pending"
	OrderPaid    OrderState = "paid"
	OrderApplied OrderState = "applied"
	OrderExpired OrderState = "expired"
)

// Order is a plan change waiting for payment settlement.
type Order struct {
	ID            string           `json:"order_id"`
	UserDID       string           `json:"user_did"`
	Kind          SubscriptionKind `json:"subscription"`
	PlanName      string           `json:"pricing_name"`
	Amount        float64          `json:"amount"`
	Currency      string           `json:"currency"`
	State         OrderState       `json:"state"`
	TransactionID string           `json:"transaction_id,omitempty"`
	CreatedAt     int64            `json:"created"`
	PaidAt        int64            `json:"paid,omitempty"`
	AppliedAt     int64            `json:"applied,omitempty"`
}
