// Package netx carries raw byte streams between nodes over HTTP with a
// bearer token, leaving JSON control calls to the API client.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

// ErrRangeNotSatisfiable is returned by GetStream when offset is at or past
// the end of the remote content.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// PutStream uploads body to url. size may be -1 when unknown.
func PutStream(ctx context.Context, client *http.Client, method, url, token string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		req.ContentLength = size
	}
	setToken(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetStream downloads url starting at offset. partial reports whether the
// server honoured the range; when it did not the body starts at byte zero.
func GetStream(ctx context.Context, client *http.Client, url, token string, offset int64) (body io.ReadCloser, partial bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	setToken(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, false, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, false, nil
	case http.StatusPartialContent:
		return resp.Body, true, nil
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		if offset > 0 {
			return nil, false, ErrRangeNotSatisfiable
		}
		return nil, false, fmt.Errorf("%w: %s", common.ErrorInternal, resp.Status)
	default:
		defer resp.Body.Close()
		return nil, false, statusError(resp)
	}
}

// PostStream sends body and returns the response body for streaming.
func PostStream(ctx context.Context, client *http.Client, url, token string, body io.Reader) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	setToken(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func setToken(req *http.Request, token string) {
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = resp.Status
	}
	return common.ErrorFromMessage(msg)
}
