// Package auth issues and verifies the node's signed envelopes: access
// tokens, file transfer handles and backup session tokens. Each family is
// an HS256 JWT signed with its own key derived from the node secret.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims bind a token to an application acting for a user.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserDID string `json:"user_did"`
	AppDID  string `json:"app_did"`
}

// Direction of a file transfer.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// TransferClaims identify a row of the owner's transfer collection.
type TransferClaims struct {
	jwt.RegisteredClaims
	RowID     string    `json:"row"`
	UserDID   string    `json:"user_did"`
	AppDID    string    `json:"app_did"`
	Direction Direction `json:"direction"`
}

// BackupClaims authorise a backup session of one user from one node.
type BackupClaims struct {
	jwt.RegisteredClaims
	UserDID string `json:"user_did"`
	Node    string `json:"node"`
}

// GenerateToken signs claims with secretKey.
func GenerateToken(claims jwt.Claims, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString into claims as of now. Expired tokens
// yield common.ErrTokenExpired, anything else common.ErrInvalidToken.
func ParseToken(tokenString string, claims jwt.Claims, secretKey []byte, now time.Time) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return common.ErrInvalidToken
	}

	if !token.Valid {
		return common.ErrInvalidToken
	}

	return nil
}

func registered(now time.Time, validity time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	}
}
