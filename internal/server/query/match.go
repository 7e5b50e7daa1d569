package query

import (
	"regexp"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

func badRequest(format string, args ...any) error {
	return common.BadRequestf(format, args...)
}

// Match reports whether doc satisfies filter. A nil or empty filter matches
// every document.
func Match(doc Document, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)
		if strings.HasPrefix(key, "$") {
			ok, err = matchLogical(doc, key, cond)
		} else {
			ok, err = matchField(doc, key, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc Document, op string, cond any) (bool, error) {
	list, ok := cond.([]any)
	if !ok || len(list) == 0 {
		return false, badRequest("%s needs a non-empty array", op)
	}
	subs := make([]map[string]any, 0, len(list))
	for _, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			return false, badRequest("%s entries must be objects", op)
		}
		subs = append(subs, m)
	}

	switch op {
	case "$and":
		for _, s := range subs {
			if ok, err := Match(doc, s); err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$or", "$nor":
		hit := false
		for _, s := range subs {
			ok, err := Match(doc, s)
			if err != nil {
				return false, err
			}
			if ok {
				hit = true
				break
			}
		}
		if op == "$or" {
			return hit, nil
		}
		return !hit, nil
	}
	return false, badRequest("unknown operator %s", op)
}

// isOperatorObject reports whether every key of v starts with '$'.
func isOperatorObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchField(doc Document, path string, cond any) (bool, error) {
	value, found := lookup(doc, path)

	ops, isOps := isOperatorObject(cond)
	if !isOps {
		return matchEq(value, found, cond), nil
	}

	for op, arg := range ops {
		ok, err := matchOp(value, found, op, arg, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// matchEq is implicit equality: an array field matches when the whole array
// or any element equals the operand; a missing field equals null.
func matchEq(value any, found bool, operand any) bool {
	if !found {
		return operand == nil
	}
	if equal(value, operand) {
		return true
	}
	if arr, ok := value.([]any); ok {
		for _, e := range arr {
			if equal(e, operand) {
				return true
			}
		}
	}
	return false
}

func matchCmp(value any, found bool, operand any, accept func(int) bool) bool {
	if !found {
		return false
	}
	if c, ok := compare(value, operand); ok && accept(c) {
		return true
	}
	if arr, ok := value.([]any); ok {
		for _, e := range arr {
			if c, ok := compare(e, operand); ok && accept(c) {
				return true
			}
		}
	}
	return false
}

func matchOp(value any, found bool, op string, arg any, siblings map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(value, found, arg), nil
	case "$ne":
		return !matchEq(value, found, arg), nil
	case "$gt":
		return matchCmp(value, found, arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return matchCmp(value, found, arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return matchCmp(value, found, arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return matchCmp(value, found, arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		list, ok := arg.([]any)
		if !ok {
			return false, badRequest("%s needs an array", op)
		}
		in := false
		for _, e := range list {
			if matchEq(value, found, e) {
				in = true
				break
			}
		}
		if op == "$in" {
			return in, nil
		}
		return !in, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, badRequest("$exists needs a boolean")
		}
		return found == want, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, badRequest("$regex needs a string")
		}
		if opts, ok := siblings["$options"].(string); ok && strings.Contains(opts, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, badRequest("invalid $regex: %v", err)
		}
		s, ok := value.(string)
		return found && ok && re.MatchString(s), nil
	case "$options":
		return true, nil
	}
	return false, badRequest("unknown operator %s", op)
}

// Seed builds the document an upsert starts from: the equality conditions of
// the filter's top level.
func Seed(filter map[string]any) Document {
	doc := Document{}
	for key, cond := range filter {
		if strings.HasPrefix(key, "$") {
			continue
		}
		if ops, ok := isOperatorObject(cond); ok {
			if v, ok := ops["$eq"]; ok {
				_ = assign(doc, key, cloneValue(v))
			}
			continue
		}
		_ = assign(doc, key, cloneValue(cond))
	}
	return doc
}
