package models

// SubscriptionKind tells the two subscription objects of a user apart.
type SubscriptionKind string

const (
	KindVault  SubscriptionKind = "vault"
	KindBackup SubscriptionKind = "backup"
)

func (k SubscriptionKind) Valid() bool {
	return k == KindVault || k == KindBackup
}

// VaultState is the plan state machine position.
type VaultState string

const (
	StateRunning VaultState = "running"
	StateFrozen  VaultState = "frozen"
)

// NoExpiry marks an end time that never comes.
const NoExpiry int64 = -1

// Vault is a subscription record. For KindBackup only FileBytesUsed is
// maintained and it is reported as bytes_used.
type Vault struct {
	UserDID       string           `json:"user_did"`
	Kind          SubscriptionKind `json:"kind"`
	PlanName      string           `json:"pricing_plan"`
	MaxBytes      int64            `json:"max_storage"`
	FileBytesUsed int64            `json:"file_use_storage"`
	DBBytesUsed   int64            `json:"db_use_storage"`
	StartTime     int64            `json:"start_time"`
	EndTime       int64            `json:"end_time"`
	State         VaultState       `json:"state"`
	CreatedAt     int64            `json:"created"`
	UpdatedAt     int64            `json:"updated"`
}

// BytesUsed is the quantity compared against MaxBytes.
func (v *Vault) BytesUsed() int64 {
	return v.FileBytesUsed + v.DBBytesUsed
}

// Plan is a named storage offer.
type Plan struct {
	Name         string  `json:"name" yaml:"name"`
	MaxBytes     int64   `json:"max_bytes" yaml:"maxBytes"`
	DurationDays int     `json:"service_days" yaml:"serviceDays"`
	Amount       float64 `json:"amount" yaml:"amount"`
	Currency     string  `json:"currency" yaml:"currency"`
}

// Unlimited reports whether the plan never expires.
func (p Plan) Unlimited() bool { return p.DurationDays <= 0 }
