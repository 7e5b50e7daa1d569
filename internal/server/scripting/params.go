package scripting

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

const (
	tokenCallerDID    = "$caller_did"
	tokenCallerAppDID = "$caller_app_did"
	tokenParamsPrefix = "$params."
)

// pathParam matches a parameter inside a path. The bare name of $params.k
// ends at the first character outside [A-Za-z0-9_], so "$params.id.bin"
// reads the "id" parameter. Keys with other characters need ${params.k}.
var pathParam = regexp.MustCompile(`\$\{params\.([^}]+)\}|\$params\.([A-Za-z0-9_]+)`)

// Env holds the values substituted into script bodies.
type Env struct {
	CallerDID    string
	CallerAppDID string
	Params       map[string]any
}

func (e Env) param(k string) (any, error) {
	v, ok := e.Params[k]
	if !ok {
		return nil, common.BadRequestf("missing parameter %q", k)
	}
	return v, nil
}

// Substitute replaces the substitution tokens found as whole string values
// anywhere in v. Other values, including other "$" strings, are kept.
func (e Env) Substitute(v any) (any, error) {
	switch t := v.(type) {
	case string:
		switch {
		case t == tokenCallerDID:
			return e.CallerDID, nil
		case t == tokenCallerAppDID:
			return e.CallerAppDID, nil
		case strings.HasPrefix(t, tokenParamsPrefix):
			return e.param(strings.TrimPrefix(t, tokenParamsPrefix))
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			sv, err := e.Substitute(val)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			sv, err := e.Substitute(val)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	}
	return v, nil
}

func (e Env) substituteBody(body map[string]any) (map[string]any, error) {
	v, err := e.Substitute(body)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Path interpolates $params.k and ${params.k} inside a file path. A whole
// string value given to Substitute takes the rest of the string as the key
// instead.
func (e Env) Path(p string) (string, error) {
	var err error
	out := pathParam.ReplaceAllStringFunc(p, func(m string) string {
		if err != nil {
			return m
		}
		sub := pathParam.FindStringSubmatch(m)
		k := sub[1]
		if k == "" {
			k = sub[2]
		}
		v, perr := e.param(k)
		if perr != nil {
			err = perr
			return m
		}
		s, perr := pathSegment(k, v)
		if perr != nil {
			err = perr
			return m
		}
		return s
	})
	return out, err
}

func pathSegment(k string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	}
	return "", common.BadRequestf("parameter %q cannot be used in a path", k)
}
