// Package backup moves a vault between the node that serves it and a node
// that keeps its backup. The client side drives sessions; the server side
// stores the copy, exposes block signatures and applies deltas.
package backup

import (
	"context"
	"io"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/delta"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// recordFileName holds the vault plan recorded by the last finished backup.
// It sits at the root of the backup tree where app directories never put
// regular files.
const recordFileName = "vault.record"

// Info describes the backup vault of a user on the backup node.
type Info struct {
	UserDID   string            `json:"user_did"`
	PlanName  string            `json:"pricing_plan"`
	MaxBytes  int64             `json:"max_storage"`
	BytesUsed int64             `json:"use_storage"`
	State     models.VaultState `json:"state"`
	StartTime int64             `json:"start_time"`
	EndTime   int64             `json:"end_time"`
}

func infoOf(v *models.Vault) *Info {
	return &Info{
		UserDID:   v.UserDID,
		PlanName:  v.PlanName,
		MaxBytes:  v.MaxBytes,
		BytesUsed: v.BytesUsed(),
		State:     v.State,
		StartTime: v.StartTime,
		EndTime:   v.EndTime,
	}
}

// VaultRecord is the plan of the source vault, carried by finish so that a
// promotion can resume service under it.
type VaultRecord struct {
	PlanName  string `json:"pricing_plan"`
	MaxBytes  int64  `json:"max_storage"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

type FinishRequest struct {
	Checksums []filestore.Checksum `json:"checksums"`
	Vault     *VaultRecord         `json:"vault,omitempty"`
}

type TokenRequest struct {
	Node string `json:"node"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ChecksumList struct {
	Checksums []filestore.Checksum `json:"checksums"`
}

type PathPair struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// Remote is the backup node as seen by a session of one user.
type Remote interface {
	Info(ctx context.Context) (*Info, error)
	ListFiles(ctx context.Context) ([]filestore.Checksum, error)
	Put(ctx context.Context, path string, r io.Reader, size int64) error
	// Get streams path from offset. partial is false when the remote
	// ignored the offset and the stream starts at byte zero.
	Get(ctx context.Context, path string, offset int64) (body io.ReadCloser, partial bool, err error)
	Delete(ctx context.Context, path string) error
	Signatures(ctx context.Context, path string, blockSize int) ([]delta.Signature, error)
	Patch(ctx context.Context, path string, d io.Reader) error
	Delta(ctx context.Context, path string, sigs []delta.Signature, blockSize int) (io.ReadCloser, error)
	FinishBackup(ctx context.Context, req FinishRequest) (*Info, error)
	FinishRestore(ctx context.Context) ([]filestore.Checksum, error)
}

// Dialer redeems credential at endpoint for a session token and returns a
// Remote bound to it.
type Dialer func(ctx context.Context, endpoint, credential string) (Remote, string, error)

// syncedPath reports whether a user-tree path takes part in a session.
func syncedPath(rel string) bool {
	return strings.Contains(rel, "/")
}

func skipUnsynced(rel string) bool { return !syncedPath(rel) }

// archivePath is the location of the database archive of app.
func archivePath(app string) string {
	return app + "/" + common.ArchiveFileName
}
