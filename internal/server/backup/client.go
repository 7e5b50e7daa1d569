package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/cryptox"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/netx"
	"github.com/dmitrijs2005/vaultnode/internal/server/delta"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
)

type job struct {
	action models.BackupAction
	cancel context.CancelFunc
	done   chan struct{}
}

// Client runs backup and restore sessions of the vaults served here
// against remote backup nodes. At most one session runs per user.
type Client struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *filestore.Store
	database    *services.DatabaseService
	files       *services.FileService
	dial        Dialer
	blockSize   int
	clock       timex.Clock
	logger      logging.Logger

	base context.Context
	stop context.CancelFunc
	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func NewClient(db *sql.DB, rm repomanager.RepositoryManager, store *filestore.Store, database *services.DatabaseService, files *services.FileService, dial Dialer, blockSize int, clock timex.Clock, logger logging.Logger) *Client {
	base, stop := context.WithCancel(context.Background())
	return &Client{
		db:          db,
		repomanager: rm,
		store:       store,
		database:    database,
		files:       files,
		dial:        dial,
		blockSize:   blockSize,
		clock:       clock,
		logger:      logger.With("module", "backup_client"),
		base:        base,
		stop:        stop,
		jobs:        make(map[string]*job),
	}
}

func (c *Client) ledger() *quota.Ledger { return c.database.Ledger() }

// State returns the session record of user. A user that never ran a
// session is idle.
func (c *Client) State(ctx context.Context, user string) (*models.BackupSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.repomanager.Sessions(c.db).Get(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &models.BackupSession{UserDID: user, State: models.BackupIdle}, nil
		}
		return nil, err
	}
	if _, running := c.jobs[user]; s.State == models.BackupInProgress && !running {
		// the node stopped while the session ran
		s.State = models.BackupFailed
		s.Message = "interrupted"
	}
	return s, nil
}

// Start begins a session of action for user against endpoint. While a
// session runs the current state is returned unless force is set, which
// cancels the running session first.
func (c *Client) Start(ctx context.Context, user string, action models.BackupAction, endpoint, credential string, force bool) (*models.BackupSession, error) {
	if action != models.ActionBackup && action != models.ActionRestore {
		return nil, common.BadRequestf("unknown backup action %q", action)
	}
	if endpoint == "" || credential == "" {
		return nil, common.BadRequestf("endpoint and credential are required")
	}
	if _, err := c.ledger().Get(ctx, user); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for {
		j, ok := c.jobs[user]
		if !ok {
			break
		}
		if !force {
			c.mu.Unlock()
			return c.State(ctx, user)
		}
		c.mu.Unlock()
		j.cancel()
		<-j.done
		c.mu.Lock()
	}
	jctx, cancel := context.WithCancel(c.base)
	j := &job{action: action, cancel: cancel, done: make(chan struct{})}
	c.jobs[user] = j
	c.mu.Unlock()

	s, remote, err := c.open(ctx, user, action, endpoint, credential)
	if err != nil {
		c.mu.Lock()
		delete(c.jobs, user)
		c.mu.Unlock()
		cancel()
		close(j.done)
		return nil, err
	}
	c.wg.Add(1)
	go c.run(jctx, j, s, remote)

	c.logger.Info(ctx, "session started", "user", user, "action", string(action), "endpoint", endpoint)
	return s, nil
}

// open redeems the credential and records the new session.
func (c *Client) open(ctx context.Context, user string, action models.BackupAction, endpoint, credential string) (*models.BackupSession, Remote, error) {
	remote, token, err := c.dial(ctx, endpoint, credential)
	if err != nil {
		return nil, nil, fmt.Errorf("remote session: %w", err)
	}
	s := &models.BackupSession{
		UserDID:        user,
		Action:         action,
		State:          models.BackupInProgress,
		RemoteEndpoint: endpoint,
		RemoteToken:    token,
		UpdatedAt:      c.clock.Now().Unix(),
	}
	if err := c.repomanager.Sessions(c.db).Upsert(ctx, s); err != nil {
		return nil, nil, err
	}
	return s, remote, nil
}

func (c *Client) run(ctx context.Context, j *job, s *models.BackupSession, remote Remote) {
	defer c.wg.Done()
	defer close(j.done)
	defer j.cancel()

	var err error
	if j.action == models.ActionBackup {
		err = c.backup(ctx, s.UserDID, remote)
	} else {
		err = c.restore(ctx, s.UserDID, remote)
	}

	next := *s
	next.UpdatedAt = c.clock.Now().Unix()
	if err != nil {
		next.State = models.BackupFailed
		next.Message = err.Error()
		c.logger.Warn(ctx, "session failed", "user", s.UserDID, "action", string(j.action), "error", err)
	} else {
		next.State = models.BackupSuccess
		next.Message = "success"
		c.logger.Info(ctx, "session finished", "user", s.UserDID, "action", string(j.action))
	}
	// the record outlives the job context
	c.mu.Lock()
	if uerr := c.repomanager.Sessions(c.db).Upsert(context.WithoutCancel(ctx), &next); uerr != nil {
		c.logger.Error(ctx, "session record", "user", s.UserDID, "error", uerr)
	}
	if c.jobs[s.UserDID] == j {
		delete(c.jobs, s.UserDID)
	}
	c.mu.Unlock()
}

// Wait blocks until the running session of user ends.
func (c *Client) Wait(user string) {
	c.mu.Lock()
	j, ok := c.jobs[user]
	c.mu.Unlock()
	if ok {
		<-j.done
	}
}

// Close cancels every running session and waits for them.
func (c *Client) Close() {
	c.stop()
	c.wg.Wait()
}

// backup pushes the user tree to remote, shipping only deltas for files
// the remote already holds in another version.
func (c *Client) backup(ctx context.Context, user string, remote Remote) error {
	tree, err := c.store.UserTree(user)
	if err != nil {
		return err
	}
	archives, err := c.dumpArchives(ctx, user, tree)
	defer func() {
		for _, rel := range archives {
			if _, err := tree.Delete(rel); err != nil && !errors.Is(err, common.ErrorNotFound) {
				c.logger.Warn(ctx, "remove archive", "user", user, "path", rel, "error", err)
			}
		}
	}()
	if err != nil {
		return fmt.Errorf("dump databases: %w", err)
	}

	local, err := tree.ChecksumTree(skipUnsynced)
	if err != nil {
		return err
	}
	remoteList, err := remote.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("list remote files: %w", err)
	}
	theirs := make(map[string]string, len(remoteList))
	for _, r := range remoteList {
		theirs[r.Path] = r.MD5
	}

	for _, l := range local {
		if err := ctx.Err(); err != nil {
			return err
		}
		md5, ok := theirs[l.Path]
		delete(theirs, l.Path)
		switch {
		case !ok:
			err = c.put(ctx, tree, remote, l.Path)
		case md5 != l.MD5:
			err = c.patch(ctx, tree, remote, l.Path)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", l.Path, err)
		}
	}
	for path := range theirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := remote.Delete(ctx, path); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}

	v, err := c.ledger().Get(ctx, user)
	if err != nil {
		return err
	}
	info, err := remote.FinishBackup(ctx, FinishRequest{
		Checksums: local,
		Vault: &VaultRecord{
			PlanName:  v.PlanName,
			MaxBytes:  v.MaxBytes,
			StartTime: v.StartTime,
			EndTime:   v.EndTime,
		},
	})
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	c.logger.Info(ctx, "backup stored", "user", user, "files", len(local), "remote_bytes", info.BytesUsed)
	return nil
}

func (c *Client) dumpArchives(ctx context.Context, user string, tree *filestore.Tree) ([]string, error) {
	apps, err := c.database.Collections().Apps(ctx, user)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, app := range apps {
		var buf bytes.Buffer
		ns := models.Namespace{UserDID: user, AppDID: app}
		if err := c.database.Collections().DumpArchive(ctx, ns, &buf); err != nil {
			return written, err
		}
		rel := archivePath(app)
		if _, _, err := tree.Write(rel, &buf); err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	return written, nil
}

func (c *Client) put(ctx context.Context, tree *filestore.Tree, remote Remote, rel string) error {
	f, st, err := tree.OpenRead(rel)
	if err != nil {
		return err
	}
	defer f.Close()
	return remote.Put(ctx, rel, f, st.Size)
}

func (c *Client) patch(ctx context.Context, tree *filestore.Tree, remote Remote, rel string) error {
	sigs, err := remote.Signatures(ctx, rel, c.blockSize)
	if err != nil {
		return err
	}
	f, _, err := tree.OpenRead(rel)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := delta.Encode(f, sigs, c.blockSize, pw)
		pw.CloseWithError(err)
	}()
	err = remote.Patch(ctx, rel, pr)
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

// restore makes the user tree equal to the remote copy and imports the
// database archives it carries. The vault lock is held throughout so file
// and database writes of the user wait for the restore to finish.
func (c *Client) restore(ctx context.Context, user string, remote Remote) error {
	unlock := c.ledger().Lock(user)
	defer unlock()

	if _, err := c.ledger().CheckAccess(ctx, user, quota.ModeWrite, 0); err != nil {
		return err
	}
	tree, err := c.store.UserTree(user)
	if err != nil {
		return err
	}

	remoteList, err := remote.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("list remote files: %w", err)
	}
	local, err := tree.ChecksumTree(skipUnsynced)
	if err != nil {
		return err
	}
	mine := make(map[string]string, len(local))
	for _, l := range local {
		mine[l.Path] = l.MD5
	}

	for _, r := range remoteList {
		if err := ctx.Err(); err != nil {
			return err
		}
		md5, ok := mine[r.Path]
		delete(mine, r.Path)
		switch {
		case !ok:
			err = c.fetch(ctx, tree, remote, user, r)
		case md5 != r.MD5:
			err = c.pull(ctx, tree, remote, r.Path)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", r.Path, err)
		}
	}
	for path := range mine {
		if _, err := tree.Delete(path); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}

	want, err := remote.FinishRestore(ctx)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	got, err := tree.ChecksumTree(skipUnsynced)
	if err != nil {
		return err
	}
	if err := sameChecksums(want, got); err != nil {
		return err
	}

	if err := importArchives(ctx, c.database.Collections(), tree, user); err != nil {
		return err
	}
	if err := c.files.Recount(ctx, user); err != nil {
		return err
	}
	return c.database.Recount(ctx, user)
}

func sameChecksums(want, got []filestore.Checksum) error {
	have := make(map[string]string, len(got))
	for _, g := range got {
		have[g.Path] = g.MD5
	}
	for _, w := range want {
		if have[w.Path] != w.MD5 {
			return fmt.Errorf("%w: %s differs after restore", common.ErrorChecksumFailed, w.Path)
		}
	}
	if len(want) != len(got) {
		return fmt.Errorf("%w: restored %d files, expected %d", common.ErrorChecksumFailed, len(got), len(want))
	}
	return nil
}

// partFile is the resumable download location of rel.
func (c *Client) partFile(user, rel string) string {
	sum := sha256.Sum256([]byte(user + "/" + rel))
	return filepath.Join(c.store.TempDir(), hex.EncodeToString(sum[:])+".part")
}

// fetch downloads a missing file, resuming a previous partial download.
// A part file that already holds the whole content is written without
// asking the remote again; one that does not match the remote checksum is
// downloaded again from the start.
func (c *Client) fetch(ctx context.Context, tree *filestore.Tree, remote Remote, user string, r filestore.Checksum) error {
	part := c.partFile(user, r.Path)
	f, err := os.OpenFile(part, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	ok := false
	if offset > 0 {
		if ok, err = partMatches(f, r.MD5); err != nil {
			return err
		}
	}
	if !ok {
		// a failed copy leaves the part file for the next attempt
		if err := download(ctx, f, remote, r.Path, offset); err != nil {
			return err
		}
		if ok, err = partMatches(f, r.MD5); err != nil {
			return err
		}
	}
	if !ok && offset > 0 {
		if err := download(ctx, f, remote, r.Path, 0); err != nil {
			return err
		}
		if ok, err = partMatches(f, r.MD5); err != nil {
			return err
		}
	}
	if !ok {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("%w: downloaded %s does not match the remote checksum", common.ErrorChecksumFailed, r.Path)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, _, err := tree.Write(r.Path, f); err != nil {
		return err
	}
	f.Close()
	return os.Remove(part)
}

// download appends the remote content from offset to f. The part is
// started over when the remote answers with the whole file or when offset
// lies at or past the remote end.
func download(ctx context.Context, f *os.File, remote Remote, rel string, offset int64) error {
	body, partial, err := remote.Get(ctx, rel, offset)
	if errors.Is(err, netx.ErrRangeNotSatisfiable) {
		offset = 0
		body, partial, err = remote.Get(ctx, rel, 0)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	if offset > 0 && partial {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	} else {
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	_, err = io.Copy(f, body)
	return err
}

func partMatches(f *os.File, want string) (bool, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	sum, _, err := cryptox.MD5Hex(f)
	if err != nil {
		return false, err
	}
	return sum == want, nil
}

// pull rebuilds a divergent local file from a delta served by remote.
func (c *Client) pull(ctx context.Context, tree *filestore.Tree, remote Remote, rel string) error {
	f, _, err := tree.OpenRead(rel)
	if err != nil {
		return err
	}
	sigs, err := delta.Signatures(f, c.blockSize)
	f.Close()
	if err != nil {
		return err
	}

	body, err := remote.Delta(ctx, rel, sigs, c.blockSize)
	if err != nil {
		return err
	}
	defer body.Close()
	_, _, err = tree.Rewrite(rel, func(base *os.File, w io.Writer) error {
		return delta.Apply(base, body, w)
	})
	return err
}
