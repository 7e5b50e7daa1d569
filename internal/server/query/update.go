package query

import (
	"sort"
	"strings"
)

// Server-managed fields that survive a replacement.
const (
	FieldID       = "_id"
	FieldCreated  = "created"
	FieldModified = "modified"
)

// IsOperatorUpdate reports whether update uses $-operators rather than being
// a whole-document replacement. Mixing both forms is rejected.
func IsOperatorUpdate(update map[string]any) (bool, error) {
	ops, plain := 0, 0
	for k := range update {
		if strings.HasPrefix(k, "$") {
			ops++
		} else {
			plain++
		}
	}
	if ops > 0 && plain > 0 {
		return false, badRequest("update mixes operators and fields")
	}
	return ops > 0, nil
}

// Apply returns the result of applying update to doc and whether it differs
// from doc. doc itself is not modified. $setOnInsert only applies when
// inserting is set.
func Apply(doc Document, update map[string]any, inserting bool) (Document, bool, error) {
	isOps, err := IsOperatorUpdate(update)
	if err != nil {
		return nil, false, err
	}

	if !isOps {
		out := Clone(update)
		for _, keep := range []string{FieldID, FieldCreated} {
			if v, ok := doc[keep]; ok {
				out[keep] = v
			}
		}
		return out, !equal(Document(out), doc), nil
	}

	out := Clone(doc)
	// operators run in name order
	names := make([]string, 0, len(update))
	for k := range update {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, op := range names {
		fields, ok := update[op].(map[string]any)
		if !ok {
			return nil, false, badRequest("%s needs an object", op)
		}
		for path, arg := range fields {
			if path == FieldID {
				return nil, false, badRequest("%s cannot change _id", op)
			}
			if err := applyOp(out, op, path, arg, inserting); err != nil {
				return nil, false, err
			}
		}
	}
	return out, !equal(Document(out), doc), nil
}

func applyOp(doc Document, op, path string, arg any, inserting bool) error {
	switch op {
	case "$set":
		return assign(doc, path, cloneValue(arg))
	case "$setOnInsert":
		if !inserting {
			return nil
		}
		return assign(doc, path, cloneValue(arg))
	case "$unset":
		unassign(doc, path)
		return nil
	case "$inc":
		delta, ok := number(arg)
		if !ok {
			return badRequest("$inc needs a number for %q", path)
		}
		cur, found := lookup(doc, path)
		if !found {
			return assign(doc, path, delta)
		}
		n, ok := number(cur)
		if !ok {
			return badRequest("$inc on non-numeric field %q", path)
		}
		return assign(doc, path, n+delta)
	case "$push":
		cur, found := lookup(doc, path)
		if !found {
			return assign(doc, path, []any{cloneValue(arg)})
		}
		arr, ok := cur.([]any)
		if !ok {
			return badRequest("$push on non-array field %q", path)
		}
		return assign(doc, path, append(arr, cloneValue(arg)))
	}
	return badRequest("unknown update operator %s", op)
}
