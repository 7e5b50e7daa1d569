package services

import (
	"context"
	"io"
	"os"

	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
)

// FileService gates file tree operations on the vault ledger and moves the
// file counter by the bytes each write adds or removes.
type FileService struct {
	store  *filestore.Store
	ledger *quota.Ledger
	logger logging.Logger
}

func NewFileService(store *filestore.Store, ledger *quota.Ledger, logger logging.Logger) *FileService {
	return &FileService{store: store, ledger: ledger, logger: logger.With("module", "files")}
}

func (s *FileService) tree(ctx context.Context, ns models.Namespace, mode quota.Mode, incoming int64) (*filestore.Tree, error) {
	if _, err := s.ledger.CheckAccess(ctx, ns.UserDID, mode, incoming); err != nil {
		return nil, err
	}
	return s.store.Files(ns)
}

// Upload stores r at path. size is the announced content length or -1.
func (s *FileService) Upload(ctx context.Context, ns models.Namespace, path string, r io.Reader, size int64) (int64, error) {
	unlock := s.ledger.Lock(ns.UserDID)
	defer unlock()

	t, err := s.tree(ctx, ns, quota.ModeWrite, max(size, 0))
	if err != nil {
		return 0, err
	}
	written, previous, err := t.Write(path, r)
	if err != nil {
		return 0, err
	}
	if err := s.ledger.AddFileBytes(ctx, ns.UserDID, written-previous); err != nil {
		return 0, err
	}
	s.logger.Debug(ctx, "file uploaded", "ns", ns.String(), "path", path, "bytes", written)
	return written, nil
}

// Download opens path for reading; the caller closes the file.
func (s *FileService) Download(ctx context.Context, ns models.Namespace, path string) (*os.File, filestore.FileInfo, error) {
	t, err := s.tree(ctx, ns, quota.ModeRead, 0)
	if err != nil {
		return nil, filestore.FileInfo{}, err
	}
	return t.OpenRead(path)
}

func (s *FileService) Stat(ctx context.Context, ns models.Namespace, path string) (filestore.FileInfo, error) {
	t, err := s.tree(ctx, ns, quota.ModeRead, 0)
	if err != nil {
		return filestore.FileInfo{}, err
	}
	return t.Stat(path)
}

func (s *FileService) List(ctx context.Context, ns models.Namespace, dir string) ([]filestore.FileInfo, error) {
	t, err := s.tree(ctx, ns, quota.ModeRead, 0)
	if err != nil {
		return nil, err
	}
	return t.List(dir)
}

func (s *FileService) Hash(ctx context.Context, ns models.Namespace, path string) (string, error) {
	t, err := s.tree(ctx, ns, quota.ModeRead, 0)
	if err != nil {
		return "", err
	}
	return t.Hash(path)
}

func (s *FileService) Move(ctx context.Context, ns models.Namespace, src, dst string) error {
	unlock := s.ledger.Lock(ns.UserDID)
	defer unlock()

	t, err := s.tree(ctx, ns, quota.ModeWrite, 0)
	if err != nil {
		return err
	}
	return t.Move(src, dst)
}

func (s *FileService) Copy(ctx context.Context, ns models.Namespace, src, dst string) error {
	unlock := s.ledger.Lock(ns.UserDID)
	defer unlock()

	t, err := s.tree(ctx, ns, quota.ModeWrite, 0)
	if err != nil {
		return err
	}
	size, err := t.SizeOf(src)
	if err != nil {
		return err
	}
	if _, err := s.ledger.CheckAccess(ctx, ns.UserDID, quota.ModeWrite, size); err != nil {
		return err
	}
	copied, err := t.Copy(src, dst)
	if copied > 0 {
		if aerr := s.ledger.AddFileBytes(ctx, ns.UserDID, copied); aerr != nil && err == nil {
			err = aerr
		}
	}
	return err
}

func (s *FileService) Delete(ctx context.Context, ns models.Namespace, path string) error {
	unlock := s.ledger.Lock(ns.UserDID)
	defer unlock()

	t, err := s.tree(ctx, ns, quota.ModeDelete, 0)
	if err != nil {
		return err
	}
	removed, err := t.Delete(path)
	if err != nil {
		return err
	}
	return s.ledger.AddFileBytes(ctx, ns.UserDID, -removed)
}

// Recount replaces the file counter with a directory scan.
func (s *FileService) Recount(ctx context.Context, user string) error {
	size, err := s.store.UserFileSize(user)
	if err != nil {
		return err
	}
	v, err := s.ledger.Get(ctx, user)
	if err != nil {
		return err
	}
	return s.ledger.SetUsage(ctx, user, size, v.DBBytesUsed)
}
