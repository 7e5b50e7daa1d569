package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/delta"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
)

// Server keeps backup copies of vaults served by other nodes.
type Server struct {
	store       *filestore.Store
	ledgers     services.Ledgers
	collections *collections.Service
	issuer      *auth.Issuer
	blockSize   int
	logger      logging.Logger
}

func NewServer(store *filestore.Store, ledgers services.Ledgers, c *collections.Service, issuer *auth.Issuer, blockSize int, logger logging.Logger) *Server {
	return &Server{
		store:       store,
		ledgers:     ledgers,
		collections: c,
		issuer:      issuer,
		blockSize:   blockSize,
		logger:      logger.With("module", "backup_server"),
	}
}

func (s *Server) BlockSize() int { return s.blockSize }

// IssueToken hands a session token to the owner of a backup subscription.
func (s *Server) IssueToken(ctx context.Context, user, node string) (string, error) {
	if node == "" {
		return "", common.BadRequestf("node is required")
	}
	if _, err := s.ledgers.Backup.Get(ctx, user); err != nil {
		return "", err
	}
	return s.issuer.BackupToken(user, node)
}

// Authenticate returns the user of a session token.
func (s *Server) Authenticate(token string) (string, error) {
	c, err := s.issuer.VerifyBackup(token)
	if err != nil {
		return "", err
	}
	return c.UserDID, nil
}

func (s *Server) tree(ctx context.Context, user string, mode quota.Mode, incoming int64) (*filestore.Tree, error) {
	if _, err := s.ledgers.Backup.CheckAccess(ctx, user, mode, incoming); err != nil {
		return nil, err
	}
	return s.store.BackupTree(user)
}

func (s *Server) Info(ctx context.Context, user string) (*Info, error) {
	v, err := s.ledgers.Backup.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	return infoOf(v), nil
}

func (s *Server) ListFiles(ctx context.Context, user string) ([]filestore.Checksum, error) {
	t, err := s.tree(ctx, user, quota.ModeRead, 0)
	if err != nil {
		return nil, err
	}
	return t.ChecksumTree(skipUnsynced)
}

// checkSynced rejects paths outside the app directories.
func checkSynced(p string) (string, error) {
	clean, err := filestore.CleanPath(p)
	if err != nil {
		return "", err
	}
	if !syncedPath(clean) {
		return "", common.BadRequestf("path %s is outside the app directories", clean)
	}
	return clean, nil
}

func (s *Server) Put(ctx context.Context, user, path string, r io.Reader, size int64) error {
	clean, err := checkSynced(path)
	if err != nil {
		return err
	}
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	t, err := s.tree(ctx, user, quota.ModeWrite, max(size, 0))
	if err != nil {
		return err
	}
	written, previous, err := t.Write(clean, r)
	if err != nil {
		return err
	}
	return s.ledgers.Backup.AddFileBytes(ctx, user, written-previous)
}

// Get opens a backed up file; the caller closes it.
func (s *Server) Get(ctx context.Context, user, path string) (*os.File, filestore.FileInfo, error) {
	clean, err := checkSynced(path)
	if err != nil {
		return nil, filestore.FileInfo{}, err
	}
	t, err := s.tree(ctx, user, quota.ModeRead, 0)
	if err != nil {
		return nil, filestore.FileInfo{}, err
	}
	return t.OpenRead(clean)
}

func (s *Server) Delete(ctx context.Context, user, path string) error {
	clean, err := checkSynced(path)
	if err != nil {
		return err
	}
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	t, err := s.tree(ctx, user, quota.ModeDelete, 0)
	if err != nil {
		return err
	}
	removed, err := t.Delete(clean)
	if err != nil {
		return err
	}
	return s.ledgers.Backup.AddFileBytes(ctx, user, -removed)
}

func (s *Server) Move(ctx context.Context, user string, p PathPair) error {
	src, err := checkSynced(p.Src)
	if err != nil {
		return err
	}
	dst, err := checkSynced(p.Dst)
	if err != nil {
		return err
	}
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	t, err := s.tree(ctx, user, quota.ModeWrite, 0)
	if err != nil {
		return err
	}
	return t.Move(src, dst)
}

func (s *Server) Copy(ctx context.Context, user string, p PathPair) error {
	src, err := checkSynced(p.Src)
	if err != nil {
		return err
	}
	dst, err := checkSynced(p.Dst)
	if err != nil {
		return err
	}
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	t, err := s.tree(ctx, user, quota.ModeWrite, 0)
	if err != nil {
		return err
	}
	size, err := t.SizeOf(src)
	if err != nil {
		return err
	}
	if _, err := s.ledgers.Backup.CheckAccess(ctx, user, quota.ModeWrite, size); err != nil {
		return err
	}
	copied, err := t.Copy(src, dst)
	if copied > 0 {
		if aerr := s.ledgers.Backup.AddFileBytes(ctx, user, copied); aerr != nil && err == nil {
			err = aerr
		}
	}
	return err
}

// Signatures writes the block signature lines of a backed up file.
func (s *Server) Signatures(ctx context.Context, user, path string, blockSize int, w io.Writer) error {
	if !delta.ValidBlockSize(blockSize) {
		return common.BadRequestf("invalid block size %d", blockSize)
	}
	f, _, err := s.Get(ctx, user, path)
	if err != nil {
		return err
	}
	defer f.Close()

	sigs, err := delta.Signatures(f, blockSize)
	if err != nil {
		return err
	}
	return delta.WriteSignatures(w, sigs)
}

// Patch rebuilds a backed up file from its current content and d.
func (s *Server) Patch(ctx context.Context, user, path string, d io.Reader) error {
	clean, err := checkSynced(path)
	if err != nil {
		return err
	}
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	v, err := s.ledgers.Backup.CheckAccess(ctx, user, quota.ModeWrite, 0)
	if err != nil {
		return err
	}
	t, err := s.store.BackupTree(user)
	if err != nil {
		return err
	}
	// the rebuilt file may grow by no more than the room left in the vault
	written, previous, err := t.Rewrite(clean, func(base *os.File, w io.Writer) error {
		st, err := base.Stat()
		if err != nil {
			return err
		}
		return delta.Apply(base, d, quota.LimitWriter(w, v, st.Size()))
	})
	if err != nil {
		return err
	}
	return s.ledgers.Backup.AddFileBytes(ctx, user, written-previous)
}

// Delta encodes a backed up file against the signatures of the caller's
// copy. It serves the restore direction.
func (s *Server) Delta(ctx context.Context, user, path string, sigs io.Reader, blockSize int, w io.Writer) error {
	if !delta.ValidBlockSize(blockSize) {
		return common.BadRequestf("invalid block size %d", blockSize)
	}
	list, err := delta.ReadSignatures(sigs)
	if err != nil {
		return err
	}
	f, _, err := s.Get(ctx, user, path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := delta.Encode(f, list, blockSize, w)
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "delta served", "user", user, "path", path, "blocks", st.Blocks, "literal_bytes", st.LiteralBytes)
	return nil
}

// FinishBackup verifies every checksum the client claims against the
// persisted tree and then sets bytes_used from a scan of the backup root.
func (s *Server) FinishBackup(ctx context.Context, user string, req FinishRequest) (*Info, error) {
	unlock := s.ledgers.Backup.Lock(user)
	defer unlock()

	t, err := s.tree(ctx, user, quota.ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	actual, err := t.ChecksumTree(skipUnsynced)
	if err != nil {
		return nil, err
	}
	have := make(map[string]string, len(actual))
	for _, c := range actual {
		have[c.Path] = c.MD5
	}
	for _, c := range req.Checksums {
		got, ok := have[c.Path]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing", common.ErrorChecksumFailed, c.Path)
		}
		if got != c.MD5 {
			return nil, fmt.Errorf("%w: %s has md5 %s, expected %s", common.ErrorChecksumFailed, c.Path, got, c.MD5)
		}
	}

	if req.Vault != nil {
		b, err := json.Marshal(req.Vault)
		if err != nil {
			return nil, err
		}
		if err := writeRecord(t, b); err != nil {
			return nil, err
		}
	}

	size, err := t.Size()
	if err != nil {
		return nil, err
	}
	if err := s.ledgers.Backup.SetUsage(ctx, user, size, 0); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "backup finished", "user", user, "files", len(req.Checksums), "bytes", size)
	return s.Info(ctx, user)
}

// FinishRestore returns the checksums the restoring client must end with.
func (s *Server) FinishRestore(ctx context.Context, user string) ([]filestore.Checksum, error) {
	return s.ListFiles(ctx, user)
}

func writeRecord(t *filestore.Tree, b []byte) error {
	_, _, err := t.Write(recordFileName, bytes.NewReader(b))
	return err
}

func readRecord(t *filestore.Tree) (*VaultRecord, error) {
	f, _, err := t.OpenRead(recordFileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rec VaultRecord
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("read vault record: %w", err)
	}
	return &rec, nil
}

// Promote turns the backup of user into the live vault of this node. The
// vault resumes under the plan recorded by the last finished backup; its
// database archives are imported and removed.
func (s *Server) Promote(ctx context.Context, user string) (*models.Vault, error) {
	unlockBackup := s.ledgers.Backup.Lock(user)
	defer unlockBackup()
	unlockVault := s.ledgers.Vault.Lock(user)
	defer unlockVault()

	if _, err := s.ledgers.Backup.CheckAccess(ctx, user, quota.ModeDelete, 0); err != nil {
		return nil, err
	}
	bt, err := s.store.BackupTree(user)
	if err != nil {
		return nil, err
	}
	rec, err := readRecord(bt)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFoundf("no finished backup of %s", user)
		}
		return nil, err
	}

	if err := s.store.PromoteBackup(user); err != nil {
		return nil, err
	}
	live, err := s.store.UserTree(user)
	if err != nil {
		return nil, err
	}
	if _, err := live.Delete(recordFileName); err != nil {
		return nil, err
	}
	if err := importArchives(ctx, s.collections, live, user); err != nil {
		return nil, err
	}

	fileBytes, err := s.store.UserFileSize(user)
	if err != nil {
		return nil, err
	}
	dbBytes, err := s.collections.Size(ctx, user)
	if err != nil {
		return nil, err
	}
	v := &models.Vault{
		UserDID:       user,
		PlanName:      rec.PlanName,
		MaxBytes:      rec.MaxBytes,
		StartTime:     rec.StartTime,
		EndTime:       rec.EndTime,
		FileBytesUsed: fileBytes,
		DBBytesUsed:   dbBytes,
	}
	if err := s.ledgers.Vault.Restore(ctx, v); err != nil {
		return nil, err
	}
	if err := s.ledgers.Backup.SetUsage(ctx, user, 0, 0); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "backup promoted", "user", user, "plan", rec.PlanName)
	return s.ledgers.Vault.Get(ctx, user)
}

// importArchives loads every app archive of tree into the document store
// and removes the archive files.
func importArchives(ctx context.Context, c *collections.Service, tree *filestore.Tree, user string) error {
	entries, err := os.ReadDir(tree.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rel := archivePath(e.Name())
		f, err := os.Open(filepath.Join(tree.Root(), e.Name(), common.ArchiveFileName))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		ns := models.Namespace{UserDID: user, AppDID: e.Name()}
		err = c.RestoreArchive(ctx, ns, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("import %s: %w", rel, err)
		}
		if _, err := tree.Delete(rel); err != nil {
			return err
		}
	}
	return nil
}
