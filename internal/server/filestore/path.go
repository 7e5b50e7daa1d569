package filestore

import (
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

// CleanPath canonicalises a caller-supplied path: surrounding slashes are
// stripped and empty, "." and ".." segments are rejected.
func CleanPath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", common.BadRequestf("empty path")
	}
	if strings.ContainsAny(trimmed, "\\\x00") {
		return "", common.BadRequestf("invalid character in path %q", p)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		switch seg {
		case "":
			return "", common.BadRequestf("empty segment in path %q", p)
		case ".", "..":
			return "", common.BadRequestf("relative segment in path %q", p)
		}
	}
	return trimmed, nil
}

// within reports whether p equals dir or lies below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}
