package scripting

import (
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

// escapeMark replaces a leading "$" of stored keys.
const escapeMark = "%%"

// escapeKeys rewrites every object key with a leading "$". Keys that already
// start with the mark are rejected since they could not be restored.
func escapeKeys(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, escapeMark) {
				return nil, common.BadRequestf("key %q uses the reserved prefix %s", k, escapeMark)
			}
			ev, err := escapeKeys(val)
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(k, "$") {
				k = escapeMark + k[1:]
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			ev, err := escapeKeys(val)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	return v, nil
}

func unescapeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, escapeMark) {
				k = "$" + k[len(escapeMark):]
			}
			out[k] = unescapeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = unescapeKeys(val)
		}
		return out
	}
	return v
}
