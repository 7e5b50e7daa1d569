package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/netx"
	"github.com/dmitrijs2005/vaultnode/internal/server/delta"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"go.sia.tech/jape"
)

// Route prefix of the backup node endpoints.
const RoutePrefix = "/internal_backup"

// HTTPRemote talks to the backup endpoints of another node. Control calls
// go through a jape client; file bodies are streamed.
type HTTPRemote struct {
	api   *jape.Client
	http  *http.Client
	base  string
	token string
}

func NewHTTPRemote(endpoint, token string, hc *http.Client) *HTTPRemote {
	base := strings.TrimRight(endpoint, "/")
	return &HTTPRemote{
		api:   &jape.Client{BaseURL: base + RoutePrefix, Password: token},
		http:  hc,
		base:  base + RoutePrefix,
		token: token,
	}
}

// HTTPDialer redeems an access token of the backup node for a session
// token bound to node.
func HTTPDialer(node string, hc *http.Client) Dialer {
	return func(ctx context.Context, endpoint, credential string) (Remote, string, error) {
		c := &jape.Client{BaseURL: strings.TrimRight(endpoint, "/") + RoutePrefix, Password: credential}
		var resp TokenResponse
		if err := remoteErr(c.POST("/token", TokenRequest{Node: node}, &resp)); err != nil {
			return nil, "", err
		}
		if resp.Token == "" {
			return nil, "", fmt.Errorf("%w: empty session token from %s", common.ErrorInternal, endpoint)
		}
		return NewHTTPRemote(endpoint, resp.Token, hc), resp.Token, nil
	}
}

func remoteErr(err error) error {
	if err == nil {
		return nil
	}
	return common.ErrorFromMessage(err.Error())
}

// escape keeps the slashes of a relative path and escapes its segments.
func escape(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func withBlockSize(u string, blockSize int) string {
	return u + "?block_size=" + strconv.Itoa(blockSize)
}

func (r *HTTPRemote) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := remoteErr(r.api.GET("/info", &info)); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *HTTPRemote) ListFiles(ctx context.Context) ([]filestore.Checksum, error) {
	var list ChecksumList
	if err := remoteErr(r.api.GET("/files", &list)); err != nil {
		return nil, err
	}
	return list.Checksums, nil
}

func (r *HTTPRemote) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	return netx.PutStream(ctx, r.http, http.MethodPut, r.base+"/files/"+escape(path), r.token, body, size)
}

func (r *HTTPRemote) Get(ctx context.Context, path string, offset int64) (io.ReadCloser, bool, error) {
	return netx.GetStream(ctx, r.http, r.base+"/files/"+escape(path), r.token, offset)
}

func (r *HTTPRemote) Delete(ctx context.Context, path string) error {
	return remoteErr(r.api.DELETE("/files/" + escape(path)))
}

func (r *HTTPRemote) Signatures(ctx context.Context, path string, blockSize int) ([]delta.Signature, error) {
	body, _, err := netx.GetStream(ctx, r.http, withBlockSize(r.base+"/signatures/"+escape(path), blockSize), r.token, 0)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return delta.ReadSignatures(body)
}

func (r *HTTPRemote) Patch(ctx context.Context, path string, d io.Reader) error {
	return netx.PutStream(ctx, r.http, http.MethodPatch, r.base+"/patch/"+escape(path), r.token, d, -1)
}

func (r *HTTPRemote) Delta(ctx context.Context, path string, sigs []delta.Signature, blockSize int) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if err := delta.WriteSignatures(&buf, sigs); err != nil {
		return nil, err
	}
	return netx.PostStream(ctx, r.http, withBlockSize(r.base+"/delta/"+escape(path), blockSize), r.token, &buf)
}

func (r *HTTPRemote) FinishBackup(ctx context.Context, req FinishRequest) (*Info, error) {
	var info Info
	if err := remoteErr(r.api.POST("/finish", req, &info)); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *HTTPRemote) FinishRestore(ctx context.Context) ([]filestore.Checksum, error) {
	var list ChecksumList
	if err := remoteErr(r.api.GET("/restore", &list)); err != nil {
		return nil, err
	}
	return list.Checksums, nil
}
