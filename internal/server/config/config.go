// Package config handles configuration for the vault node: defaults, an
// optional JSON or YAML file, then command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
)

const mib = 1 << 20

// Config holds runtime settings for a vault node.
//
// NodeID is the public base URL the node announces to backup peers.
// AdminPassword guards the payment settlement endpoint.
type Config struct {
	EndpointAddrHTTP string
	NodeID           string
	DataDir          string
	DatabaseDriver   string
	DatabaseDSN      string
	SecretKey        string
	AdminPassword    string

	AccessTokenValidityDuration   time.Duration
	TransferTokenValidityDuration time.Duration
	BackupTokenValidityDuration   time.Duration
	PaymentWaitDuration           time.Duration

	RecountInterval time.Duration
	ExpireInterval  time.Duration
	SettleInterval  time.Duration

	BlockSize int
	LogLevel  string

	Plans       []models.Plan
	BackupPlans []models.Plan
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey and AdminPassword must be overridden in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":5000"
	c.NodeID = "http://localhost:5000"
	c.DataDir = "./data"
	c.DatabaseDriver = repomanager.DriverSQLite
	c.DatabaseDSN = "file:./data/vault.db?_pragma=busy_timeout(5000)"
	c.SecretKey = "secretKey"
	c.AdminPassword = "admin"
	c.AccessTokenValidityDuration = 60 * time.Minute
	c.TransferTokenValidityDuration = 5 * time.Minute
	c.BackupTokenValidityDuration = 24 * time.Hour
	c.PaymentWaitDuration = 30 * time.Minute
	c.RecountInterval = time.Hour
	c.ExpireInterval = 10 * time.Minute
	c.SettleInterval = time.Minute
	c.BlockSize = 4096
	c.LogLevel = "info"
	c.Plans = []models.Plan{
		{Name: "free", MaxBytes: 500 * mib, DurationDays: -1},
		{Name: "rookie", MaxBytes: 2000 * mib, DurationDays: 30, Amount: 2.5, Currency: "ELA"},
		{Name: "advanced", MaxBytes: 50000 * mib, DurationDays: 30, Amount: 15, Currency: "ELA"},
	}
	c.BackupPlans = []models.Plan{
		{Name: "free", MaxBytes: 500 * mib, DurationDays: -1},
		{Name: "rookie", MaxBytes: 2000 * mib, DurationDays: 30, Amount: 1.5, Currency: "ELA"},
	}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file and finally from command-line flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
