// Package scripting stores named, permissioned operation descriptors in a
// vault and runs them on behalf of other callers.
package scripting

import (
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

type ConditionType string

const (
	ConditionAnd             ConditionType = "and"
	ConditionOr              ConditionType = "or"
	ConditionQueryHasResults ConditionType = "queryHasResults"
)

// MaxConditionDepth bounds the nesting of and/or conditions.
const MaxConditionDepth = 5

type ExecutableType string

const (
	ExecAggregated     ExecutableType = "aggregated"
	ExecFind           ExecutableType = "find"
	ExecInsert         ExecutableType = "insert"
	ExecUpdate         ExecutableType = "update"
	ExecDelete         ExecutableType = "delete"
	ExecFileUpload     ExecutableType = "fileUpload"
	ExecFileDownload   ExecutableType = "fileDownload"
	ExecFileProperties ExecutableType = "fileProperties"
	ExecFileHash       ExecutableType = "fileHash"
)

func (t ExecutableType) isFile() bool {
	switch t {
	case ExecFileUpload, ExecFileDownload, ExecFileProperties, ExecFileHash:
		return true
	}
	return false
}

func (t ExecutableType) valid() bool {
	switch t {
	case ExecAggregated, ExecFind, ExecInsert, ExecUpdate, ExecDelete:
		return true
	}
	return t.isFile()
}

// Condition is a node of the condition tree. And/or nodes carry Children,
// queryHasResults carries Body.
type Condition struct {
	Name     string
	Type     ConditionType
	Children []*Condition
	Body     map[string]any
}

// Executable is a node of the executable tree. Only aggregated nodes have
// Children; leaves carry Body.
type Executable struct {
	Name     string
	Type     ExecutableType
	Output   bool
	Children []*Executable
	Body     map[string]any
}

// Leaves flattens the tree into execution order.
func (e *Executable) Leaves() []*Executable {
	if e.Type != ExecAggregated {
		return []*Executable{e}
	}
	return e.Children
}

type Script struct {
	Name               string
	Condition          *Condition
	Executable         *Executable
	AllowAnonymousUser bool
	AllowAnonymousApp  bool
}

// AllowsAnonymous reports whether unauthenticated callers may run the script.
// Both flags must be set.
func (s *Script) AllowsAnonymous() bool {
	return s.AllowAnonymousUser && s.AllowAnonymousApp
}

// Parse validates the wire form of a script registered under name.
func Parse(name string, raw map[string]any) (*Script, error) {
	if name == "" {
		return nil, common.BadRequestf("script name is empty")
	}
	s := &Script{Name: name}

	var err error
	if s.AllowAnonymousUser, err = optBool(raw, "allowAnonymousUser"); err != nil {
		return nil, err
	}
	if s.AllowAnonymousApp, err = optBool(raw, "allowAnonymousApp"); err != nil {
		return nil, err
	}

	exec, ok := raw["executable"]
	if !ok || exec == nil {
		return nil, common.BadRequestf("script %s: executable is required", name)
	}
	if s.Executable, err = parseExecutable(exec, name, true); err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	seen := map[string]bool{}
	for _, leaf := range s.Executable.Leaves() {
		if seen[leaf.Name] {
			return nil, common.BadRequestf("script %s: duplicate executable name %q", name, leaf.Name)
		}
		seen[leaf.Name] = true
	}

	if c, ok := raw["condition"]; ok && c != nil {
		if s.Condition, err = parseCondition(c, 1); err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
	}
	return s, nil
}

func optBool(raw map[string]any, key string) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, common.BadRequestf("%s must be a boolean", key)
	}
	return b, nil
}

func asObject(v any, what string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, common.BadRequestf("%s must be an object", what)
	}
	return m, nil
}

func asList(v any, what string) ([]any, error) {
	l, ok := v.([]any)
	if !ok || len(l) == 0 {
		return nil, common.BadRequestf("%s must be a non-empty list", what)
	}
	return l, nil
}

func optString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", common.BadRequestf("%s must be a string", key)
	}
	return s, nil
}

func parseExecutable(v any, defaultName string, top bool) (*Executable, error) {
	m, err := asObject(v, "executable")
	if err != nil {
		return nil, err
	}
	typ, err := optString(m, "type")
	if err != nil {
		return nil, err
	}
	e := &Executable{Type: ExecutableType(typ), Output: true}
	if !e.Type.valid() {
		return nil, common.BadRequestf("unknown executable type %q", typ)
	}
	if e.Name, err = optString(m, "name"); err != nil {
		return nil, err
	}
	if e.Name == "" {
		e.Name = defaultName
	}
	if o, ok := m["output"]; ok && o != nil {
		b, ok := o.(bool)
		if !ok {
			return nil, common.BadRequestf("output must be a boolean")
		}
		e.Output = b
	}

	if e.Type == ExecAggregated {
		if !top {
			return nil, common.BadRequestf("aggregated executables may not nest")
		}
		list, err := asList(m["body"], "aggregated body")
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			child, err := parseExecutable(c, e.Name, false)
			if err != nil {
				return nil, err
			}
			e.Children = append(e.Children, child)
		}
		return e, nil
	}

	if e.Body, err = asObject(m["body"], string(e.Type)+" body"); err != nil {
		return nil, err
	}
	return e, validateLeaf(e)
}

func validateLeaf(e *Executable) error {
	if e.Type.isFile() {
		p, err := optString(e.Body, "path")
		if err != nil {
			return err
		}
		if p == "" {
			return common.BadRequestf("%s %s: path is required", e.Type, e.Name)
		}
		return nil
	}

	c, err := optString(e.Body, "collection")
	if err != nil {
		return err
	}
	if c == "" {
		return common.BadRequestf("%s %s: collection is required", e.Type, e.Name)
	}
	switch e.Type {
	case ExecInsert:
		if e.Body["document"] == nil {
			return common.BadRequestf("insert %s: document is required", e.Name)
		}
	case ExecUpdate:
		if _, err := asObject(e.Body["update"], "update "+e.Name+": update"); err != nil {
			return err
		}
	}
	return nil
}

func parseCondition(v any, depth int) (*Condition, error) {
	if depth > MaxConditionDepth {
		return nil, common.BadRequestf("conditions nest deeper than %d", MaxConditionDepth)
	}
	m, err := asObject(v, "condition")
	if err != nil {
		return nil, err
	}
	typ, err := optString(m, "type")
	if err != nil {
		return nil, err
	}
	c := &Condition{Type: ConditionType(typ)}
	if c.Name, err = optString(m, "name"); err != nil {
		return nil, err
	}

	switch c.Type {
	case ConditionAnd, ConditionOr:
		list, err := asList(m["body"], typ+" body")
		if err != nil {
			return nil, err
		}
		for _, item := range list {
			child, err := parseCondition(item, depth+1)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, child)
		}
	case ConditionQueryHasResults:
		if c.Body, err = asObject(m["body"], "queryHasResults body"); err != nil {
			return nil, err
		}
		coll, err := optString(c.Body, "collection")
		if err != nil {
			return nil, err
		}
		if coll == "" {
			return nil, common.BadRequestf("queryHasResults: collection is required")
		}
	default:
		return nil, common.BadRequestf("unknown condition type %q", typ)
	}
	return c, nil
}

// Map renders the script back into its wire form.
func (s *Script) Map() map[string]any {
	out := map[string]any{
		"executable":         s.Executable.wire(),
		"allowAnonymousUser": s.AllowAnonymousUser,
		"allowAnonymousApp":  s.AllowAnonymousApp,
	}
	if s.Condition != nil {
		out["condition"] = s.Condition.wire()
	}
	return out
}

func (e *Executable) wire() map[string]any {
	m := map[string]any{"name": e.Name, "type": string(e.Type), "output": e.Output}
	if e.Type == ExecAggregated {
		body := make([]any, 0, len(e.Children))
		for _, c := range e.Children {
			body = append(body, c.wire())
		}
		m["body"] = body
	} else {
		m["body"] = e.Body
	}
	return m
}

func (c *Condition) wire() map[string]any {
	m := map[string]any{"name": c.Name, "type": string(c.Type)}
	if c.Type == ConditionQueryHasResults {
		m["body"] = c.Body
		return m
	}
	body := make([]any, 0, len(c.Children))
	for _, child := range c.Children {
		body = append(body, child.wire())
	}
	m["body"] = body
	return m
}
