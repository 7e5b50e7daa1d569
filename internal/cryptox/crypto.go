// Package cryptox holds the key derivation and content hashing helpers used
// by tokens, transfers and the backup checksum exchange.
package cryptox

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// Purposes for DeriveKey. Each token family is signed with its own key.
const (
	PurposeAccess   = "vaultnode/access-token"
	PurposeTransfer = "vaultnode/transfer-handle"
	PurposeBackup   = "vaultnode/backup-token"
)

// DeriveKey expands the node secret into a 32 byte key bound to purpose.
func DeriveKey(secret []byte, purpose string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf can produce 255*32 bytes; 32 never fails
		panic(err)
	}
	return key
}

// SHA256Hex consumes r and returns the hex digest and the byte count.
func SHA256Hex(r io.Reader) (string, int64, error) {
	return digest(sha256.New(), r)
}

// MD5Hex consumes r and returns the hex digest and the byte count.
func MD5Hex(r io.Reader) (string, int64, error) {
	return digest(md5.New(), r)
}

// SHA256File hashes the file at path.
func SHA256File(path string) (string, error) {
	return digestFile(path, sha256.New())
}

// MD5File hashes the file at path.
func MD5File(path string) (string, error) {
	return digestFile(path, md5.New())
}

func digest(h hash.Hash, r io.Reader) (string, int64, error) {
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func digestFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, _, err := digest(h, f)
	return sum, err
}
