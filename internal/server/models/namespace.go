// Package models holds the persistent entities of the vault node.
package models

import (
	"fmt"
	"strings"
)

// Namespace is the (user-id, app-id) pair that scopes all vault data.
type Namespace struct {
	UserDID string `json:"user_did"`
	AppDID  string `json:"app_did"`
}

func (n Namespace) String() string {
	return n.UserDID + "@" + n.AppDID
}

// Validate rejects empty identifiers and the characters that would escape a
// directory when the identifiers become path segments.
func (n Namespace) Validate() error {
	for _, v := range []string{n.UserDID, n.AppDID} {
		if v == "" {
			return fmt.Errorf("empty identifier")
		}
		if strings.ContainsAny(v, "/\\\x00") || v == "." || v == ".." {
			return fmt.Errorf("invalid identifier %q", v)
		}
	}
	return nil
}
