package auth

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/cryptox"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints and verifies every token family of the node.
type Issuer struct {
	accessKey   []byte
	transferKey []byte
	backupKey   []byte
	clock       timex.Clock

	// Node names this node. Backup tokens are bound to it and refused by
	// any other node, even one sharing the secret.
	Node string

	AccessTTL   time.Duration
	TransferTTL time.Duration
	BackupTTL   time.Duration
}

func NewIssuer(secret []byte, clock timex.Clock, accessTTL, transferTTL, backupTTL time.Duration) *Issuer {
	return &Issuer{
		accessKey:   cryptox.DeriveKey(secret, cryptox.PurposeAccess),
		transferKey: cryptox.DeriveKey(secret, cryptox.PurposeTransfer),
		backupKey:   cryptox.DeriveKey(secret, cryptox.PurposeBackup),
		clock:       clock,
		AccessTTL:   accessTTL,
		TransferTTL: transferTTL,
		BackupTTL:   backupTTL,
	}
}

func (i *Issuer) AccessToken(userDID, appDID string) (string, error) {
	return GenerateToken(AccessClaims{
		RegisteredClaims: registered(i.clock.Now(), i.AccessTTL),
		UserDID:          userDID,
		AppDID:           appDID,
	}, i.accessKey)
}

func (i *Issuer) VerifyAccess(token string) (Identity, error) {
	var c AccessClaims
	if err := ParseToken(token, &c, i.accessKey, i.clock.Now()); err != nil {
		return Identity{}, err
	}
	if c.UserDID == "" || c.AppDID == "" {
		return Identity{}, common.ErrInvalidToken
	}
	return Identity{UserDID: c.UserDID, AppDID: c.AppDID}, nil
}

func (i *Issuer) TransferHandle(rowID, userDID, appDID string, dir Direction) (string, error) {
	return GenerateToken(TransferClaims{
		RegisteredClaims: registered(i.clock.Now(), i.TransferTTL),
		RowID:            rowID,
		UserDID:          userDID,
		AppDID:           appDID,
		Direction:        dir,
	}, i.transferKey)
}

func (i *Issuer) VerifyTransfer(token string) (*TransferClaims, error) {
	var c TransferClaims
	if err := ParseToken(token, &c, i.transferKey, i.clock.Now()); err != nil {
		return nil, err
	}
	if c.RowID == "" || c.UserDID == "" || c.AppDID == "" {
		return nil, common.ErrInvalidToken
	}
	return &c, nil
}

// BackupToken authorises node to run backup sessions of userDID against
// this node.
func (i *Issuer) BackupToken(userDID, node string) (string, error) {
	rc := registered(i.clock.Now(), i.BackupTTL)
	if i.Node != "" {
		rc.Audience = jwt.ClaimStrings{i.Node}
	}
	return GenerateToken(BackupClaims{
		RegisteredClaims: rc,
		UserDID:          userDID,
		Node:             node,
	}, i.backupKey)
}

func (i *Issuer) VerifyBackup(token string) (*BackupClaims, error) {
	var c BackupClaims
	if err := ParseToken(token, &c, i.backupKey, i.clock.Now()); err != nil {
		return nil, err
	}
	if c.UserDID == "" || c.Node == "" {
		return nil, common.ErrInvalidToken
	}
	if i.Node != "" && !slices.Contains(c.Audience, i.Node) {
		return nil, common.ErrInvalidToken
	}
	return &c, nil
}
