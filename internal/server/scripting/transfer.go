package scripting

import (
	"context"
	"errors"
	"io"
	"os"
	"slices"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/query"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"github.com/dmitrijs2005/vaultnode/internal/timex"
	"github.com/google/uuid"
)

// Transfers binds a later byte stream to a file executable that already
// passed evaluation. Each handle names a row of the target's transfers
// collection; consuming the handle deletes the row.
type Transfers struct {
	database *services.DatabaseService
	files    *services.FileService
	issuer   *auth.Issuer
	clock    timex.Clock
	logger   logging.Logger
}

func NewTransfers(database *services.DatabaseService, files *services.FileService, issuer *auth.Issuer, clock timex.Clock, logger logging.Logger) *Transfers {
	return &Transfers{
		database: database,
		files:    files,
		issuer:   issuer,
		clock:    clock,
		logger:   logger.With("module", "transfers"),
	}
}

type transferRow struct {
	ID        string
	Path      string
	Direction auth.Direction
	Anonymous bool
	Expires   int64
}

func (r transferRow) document() collections.Document {
	return collections.Document{
		query.FieldID: r.ID,
		"path":        r.Path,
		"direction":   string(r.Direction),
		"anonymous":   r.Anonymous,
		"expires":     r.Expires,
	}
}

func rowFrom(d collections.Document) transferRow {
	r := transferRow{}
	r.ID, _ = d[query.FieldID].(string)
	r.Path, _ = d["path"].(string)
	dir, _ := d["direction"].(string)
	r.Direction = auth.Direction(dir)
	r.Anonymous, _ = d["anonymous"].(bool)
	if f, ok := d["expires"].(float64); ok {
		r.Expires = int64(f)
	}
	return r
}

func gateFor(dir auth.Direction) quota.Mode {
	if dir == auth.Upload {
		return quota.ModeWrite
	}
	return quota.ModeRead
}

// Mint records a pending transfer of path in ns and returns its handle.
func (t *Transfers) Mint(ctx context.Context, ns models.Namespace, path string, dir auth.Direction, anonymous bool) (string, error) {
	clean, err := filestore.CleanPath(path)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	row := transferRow{
		ID:        id.String(),
		Path:      clean,
		Direction: dir,
		Anonymous: anonymous,
		Expires:   t.clock.Now().Add(t.issuer.TransferTTL).Unix(),
	}

	err = t.database.Reserved(ctx, ns.UserDID, gateFor(dir), func(c *collections.Service) error {
		if err := c.EnsureCollection(ctx, ns, common.TransfersCollection); err != nil {
			return err
		}
		_, err := c.InsertMany(ctx, ns, common.TransfersCollection, []collections.Document{row.document()}, collections.InsertOptions{Timestamp: collections.Bool(false)})
		return err
	})
	if err != nil {
		return "", err
	}
	return t.issuer.TransferHandle(row.ID, ns.UserDID, ns.AppDID, dir)
}

// claim verifies the handle and removes its row, so a handle is consumed
// at most once.
func (t *Transfers) claim(ctx context.Context, caller auth.Identity, handle string, dir auth.Direction) (models.Namespace, transferRow, error) {
	claims, err := t.issuer.VerifyTransfer(handle)
	if err != nil {
		return models.Namespace{}, transferRow{}, err
	}
	if claims.Direction != dir {
		return models.Namespace{}, transferRow{}, common.BadRequestf("handle is not valid for %s", dir)
	}
	ns := models.Namespace{UserDID: claims.UserDID, AppDID: claims.AppDID}

	var (
		row     transferRow
		expired bool
	)
	err = t.database.Reserved(ctx, ns.UserDID, quota.ModeRead, func(c *collections.Service) error {
		filter := map[string]any{query.FieldID: claims.RowID}
		docs, err := c.Find(ctx, ns, common.TransfersCollection, filter, collections.FindOptions{Limit: 1})
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if len(docs) == 0 {
			return common.NotFoundf("transfer %s", claims.RowID)
		}
		row = rowFrom(docs[0])
		if row.Direction != dir {
			return common.NotFoundf("transfer %s", claims.RowID)
		}
		if caller.Anonymous && !row.Anonymous {
			return common.ErrorUnauthorized
		}
		if _, err := c.Delete(ctx, ns, common.TransfersCollection, filter, collections.DeleteOptions{}); err != nil {
			return err
		}
		expired = row.Expires <= t.clock.Now().Unix()
		return nil
	})
	if err == nil && expired {
		err = common.NotFoundf("transfer %s expired", claims.RowID)
	}
	return ns, row, err
}

// Upload consumes an upload handle and stores r at the bound path.
func (t *Transfers) Upload(ctx context.Context, caller auth.Identity, handle string, r io.Reader, size int64) (int64, error) {
	ns, row, err := t.claim(ctx, caller, handle, auth.Upload)
	if err != nil {
		return 0, err
	}
	n, err := t.files.Upload(ctx, ns, row.Path, r, size)
	if err != nil {
		return 0, err
	}
	t.logger.Info(ctx, "transfer uploaded", "ns", ns.String(), "path", row.Path, "bytes", n)
	return n, nil
}

// Download consumes a download handle and opens the bound file.
func (t *Transfers) Download(ctx context.Context, caller auth.Identity, handle string) (*os.File, filestore.FileInfo, error) {
	ns, row, err := t.claim(ctx, caller, handle, auth.Download)
	if err != nil {
		return nil, filestore.FileInfo{}, err
	}
	return t.files.Download(ctx, ns, row.Path)
}

// Purge removes transfer rows past their expiry in every namespace.
func (t *Transfers) Purge(ctx context.Context) (int, error) {
	c := t.database.Collections()
	namespaces, err := c.Namespaces(ctx)
	if err != nil {
		return 0, err
	}
	filter := map[string]any{"expires": map[string]any{"$lte": t.clock.Now().Unix()}}

	total := 0
	for _, ns := range namespaces {
		names, err := c.ListCollections(ctx, ns)
		if err != nil {
			return total, err
		}
		if !slices.Contains(names, common.TransfersCollection) {
			continue
		}
		err = t.database.Reserved(ctx, ns.UserDID, quota.ModeRead, func(c *collections.Service) error {
			res, err := c.Delete(ctx, ns, common.TransfersCollection, filter, collections.DeleteOptions{Many: true})
			if err != nil {
				return err
			}
			total += int(res.DeletedCount)
			return nil
		})
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return total, err
		}
	}
	return total, nil
}
