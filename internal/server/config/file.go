package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/flagx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Durations accept strings such
// as "90s" as well as integer nanoseconds. Zero values leave the current
// setting alone.
type FileConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http" yaml:"endpointAddrHTTP"`
	NodeID           string `json:"node_id" yaml:"nodeID"`
	DataDir          string `json:"data_dir" yaml:"dataDir"`
	DatabaseDriver   string `json:"database_driver" yaml:"databaseDriver"`
	DatabaseDSN      string `json:"database_dsn" yaml:"databaseDSN"`
	SecretKey        string `json:"secret_key" yaml:"secretKey"`
	AdminPassword    string `json:"admin_password" yaml:"adminPassword"`

	AccessTokenValidityDuration   timex.Duration `json:"access_token_validity_duration" yaml:"accessTokenValidityDuration"`
	TransferTokenValidityDuration timex.Duration `json:"transfer_token_validity_duration" yaml:"transferTokenValidityDuration"`
	BackupTokenValidityDuration   timex.Duration `json:"backup_token_validity_duration" yaml:"backupTokenValidityDuration"`
	PaymentWaitDuration           timex.Duration `json:"payment_wait_duration" yaml:"paymentWaitDuration"`

	RecountInterval timex.Duration `json:"recount_interval" yaml:"recountInterval"`
	ExpireInterval  timex.Duration `json:"expire_interval" yaml:"expireInterval"`
	SettleInterval  timex.Duration `json:"settle_interval" yaml:"settleInterval"`

	BlockSize int    `json:"block_size" yaml:"blockSize"`
	LogLevel  string `json:"log_level" yaml:"logLevel"`

	Plans       []models.Plan `json:"plans" yaml:"plans"`
	BackupPlans []models.Plan `json:"backup_plans" yaml:"backupPlans"`
}

// decodeFile reads path strictly: unknown keys are an error in both formats.
func decodeFile(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	fc := &FileConfig{}
	switch flagx.FormatOf(path) {
	case flagx.FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		err = dec.Decode(fc)
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(fc)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return fc, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// apply copies the non-zero values of fc into c.
func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setString(&c.NodeID, fc.NodeID)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.DatabaseDriver, fc.DatabaseDriver)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.AdminPassword, fc.AdminPassword)
	setString(&c.LogLevel, fc.LogLevel)

	setDuration(&c.AccessTokenValidityDuration, fc.AccessTokenValidityDuration)
	setDuration(&c.TransferTokenValidityDuration, fc.TransferTokenValidityDuration)
	setDuration(&c.BackupTokenValidityDuration, fc.BackupTokenValidityDuration)
	setDuration(&c.PaymentWaitDuration, fc.PaymentWaitDuration)
	setDuration(&c.RecountInterval, fc.RecountInterval)
	setDuration(&c.ExpireInterval, fc.ExpireInterval)
	setDuration(&c.SettleInterval, fc.SettleInterval)

	if fc.BlockSize != 0 {
		c.BlockSize = fc.BlockSize
	}
	if len(fc.Plans) > 0 {
		c.Plans = fc.Plans
	}
	if len(fc.BackupPlans) > 0 {
		c.BackupPlans = fc.BackupPlans
	}
}

// parseFile overlays the file named by -c or -config, if any.
func parseFile(c *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}
	fc, err := decodeFile(path)
	if err != nil {
		return err
	}
	fc.apply(c)
	return nil
}
