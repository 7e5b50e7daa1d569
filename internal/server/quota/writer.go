package quota

import (
	"fmt"
	"io"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

type limitWriter struct {
	w    io.Writer
	left int64
	v    *models.Vault
}

// LimitWriter passes writes to w until the content would grow the vault
// past its limit. replaced is the size of the content being rewritten; it
// is given back once the rewrite commits. Writes past the limit fail with
// over_quota and nothing is written.
func LimitWriter(w io.Writer, v *models.Vault, replaced int64) io.Writer {
	return &limitWriter{w: w, left: v.MaxBytes - v.BytesUsed() + replaced, v: v}
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.left {
		return 0, fmt.Errorf("%w: %d of %d bytes used", common.ErrorOverQuota, l.v.BytesUsed(), l.v.MaxBytes)
	}
	n, err := l.w.Write(p)
	l.left -= int64(n)
	return n, err
}
