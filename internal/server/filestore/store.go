// Package filestore lays out vault file trees under the data root and
// implements the file operations on them.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/filex"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// Store is the data root: vaults/<user>/<app>/files/..., backup_vaults/<user>/...
// and .temp for in-flight writes.
type Store struct {
	vaults  string
	backups string
	temp    string
}

func New(root string) (*Store, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	s := &Store{
		vaults:  filepath.Join(abs, common.VaultsDirName),
		backups: filepath.Join(abs, common.BackupVaultsDirName),
		temp:    filepath.Join(abs, common.TempDirName),
	}
	for _, dir := range []string{s.vaults, s.backups, s.temp} {
		if _, err := filex.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TempDir shares the filesystem of every tree.
func (s *Store) TempDir() string { return s.temp }

func userDir(base, user string) (string, error) {
	if err := (models.Namespace{UserDID: user, AppDID: "_"}).Validate(); err != nil {
		return "", common.BadRequestf("user: %v", err)
	}
	return filepath.Join(base, user), nil
}

// Files is the file tree of one app of a user.
func (s *Store) Files(ns models.Namespace) (*Tree, error) {
	if err := ns.Validate(); err != nil {
		return nil, common.BadRequestf("namespace: %v", err)
	}
	return &Tree{root: filepath.Join(s.vaults, ns.UserDID, ns.AppDID, common.FilesDirName), temp: s.temp}, nil
}

// UserTree is the whole vault directory of a user, the unit of backup.
func (s *Store) UserTree(user string) (*Tree, error) {
	dir, err := userDir(s.vaults, user)
	if err != nil {
		return nil, err
	}
	return &Tree{root: dir, temp: s.temp}, nil
}

// BackupTree is the backup copy of a user's vault directory.
func (s *Store) BackupTree(user string) (*Tree, error) {
	dir, err := userDir(s.backups, user)
	if err != nil {
		return nil, err
	}
	return &Tree{root: dir, temp: s.temp}, nil
}

// IsAppFile reports whether a user-tree relative path is an app file, as
// opposed to a database archive or other bookkeeping.
func IsAppFile(rel string) bool {
	segs := strings.SplitN(rel, "/", 3)
	return len(segs) == 3 && segs[1] == common.FilesDirName
}

// UserFileSize is the byte size of all app files of a user.
func (s *Store) UserFileSize(user string) (int64, error) {
	dir, err := userDir(s.vaults, user)
	if err != nil {
		return 0, err
	}
	return filex.DirSize(dir, IsAppFile)
}

// Users lists the user directories of the live vaults.
func (s *Store) Users() ([]string, error) {
	entries, err := os.ReadDir(s.vaults)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// RemoveUser deletes the live vault directory of a user.
func (s *Store) RemoveUser(user string) error {
	dir, err := userDir(s.vaults, user)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// RemoveBackup deletes the backup directory of a user.
func (s *Store) RemoveBackup(user string) error {
	dir, err := userDir(s.backups, user)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// PromoteBackup moves the backup directory of a user into place as the
// live vault directory. A previous live directory is discarded.
func (s *Store) PromoteBackup(user string) error {
	src, err := userDir(s.backups, user)
	if err != nil {
		return err
	}
	dst, _ := userDir(s.vaults, user)

	if _, err := os.Stat(src); err != nil {
		return statErr("backup of "+user, err)
	}

	var old string
	if _, err := os.Stat(dst); err == nil {
		old, err = os.MkdirTemp(s.temp, "promote-*")
		if err != nil {
			return err
		}
		if err := os.Rename(dst, filepath.Join(old, "vault")); err != nil {
			return fmt.Errorf("promote %s: %w", user, err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			_ = os.Rename(filepath.Join(old, "vault"), dst)
		}
		return fmt.Errorf("promote %s: %w", user, err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}
