package query

import (
	"sort"
)

// SortKey is one field of a sort order; Desc reverses it.
type SortKey struct {
	Field string
	Desc  bool
}

// ParseSort accepts [[field, 1|-1], ...] or {field: 1|-1}. The object form
// is ordered by field name since JSON objects carry no order.
func ParseSort(v any) ([]SortKey, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []any:
		keys := make([]SortKey, 0, len(s))
		for _, e := range s {
			pair, ok := e.([]any)
			if !ok || len(pair) != 2 {
				return nil, badRequest("sort entries must be [field, direction]")
			}
			field, ok := pair[0].(string)
			if !ok || field == "" {
				return nil, badRequest("sort field must be a string")
			}
			desc, err := direction(pair[1])
			if err != nil {
				return nil, err
			}
			keys = append(keys, SortKey{Field: field, Desc: desc})
		}
		return keys, nil
	case map[string]any:
		fields := make([]string, 0, len(s))
		for f := range s {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		keys := make([]SortKey, 0, len(fields))
		for _, f := range fields {
			desc, err := direction(s[f])
			if err != nil {
				return nil, err
			}
			keys = append(keys, SortKey{Field: f, Desc: desc})
		}
		return keys, nil
	}
	return nil, badRequest("invalid sort specification")
}

func direction(v any) (bool, error) {
	n, ok := number(v)
	if !ok || (n != 1 && n != -1) {
		return false, badRequest("sort direction must be 1 or -1")
	}
	return n < 0, nil
}

// Sort orders docs in place, keeping insertion order among equal keys.
func Sort(docs []Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := order(docs[i], docs[j], k.Field)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func order(a, b Document, field string) int {
	x, _ := lookup(a, field)
	y, _ := lookup(b, field)
	rx, ry := rank(x), rank(y)
	if rx != ry {
		return rx - ry
	}
	c, _ := compare(x, y)
	return c
}

// Project applies an inclusion or exclusion projection. _id is kept unless
// excluded explicitly.
func Project(doc Document, projection map[string]any) (Document, error) {
	if len(projection) == 0 {
		return doc, nil
	}

	include := -1
	keepID := true
	for field, v := range projection {
		on := truthy(v)
		if field == FieldID {
			keepID = on
			continue
		}
		mode := 0
		if on {
			mode = 1
		}
		if include == -1 {
			include = mode
		} else if include != mode {
			return nil, badRequest("projection mixes inclusion and exclusion")
		}
	}

	if include == 1 {
		out := Document{}
		for field, v := range projection {
			if field == FieldID || !truthy(v) {
				continue
			}
			if val, ok := lookup(doc, field); ok {
				_ = assign(out, field, cloneValue(val))
			}
		}
		if id, ok := doc[FieldID]; ok && keepID {
			out[FieldID] = id
		}
		return out, nil
	}

	out := Clone(doc)
	for field := range projection {
		if field == FieldID {
			continue
		}
		unassign(out, field)
	}
	if !keepID {
		delete(out, FieldID)
	}
	return out, nil
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	n, ok := number(v)
	return ok && n != 0
}
