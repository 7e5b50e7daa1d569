package scripting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
)

// Target names the vault a script runs against.
type Target struct {
	UserDID string `json:"target_user"`
	AppDID  string `json:"target_app"`
}

type RunRequest struct {
	Context *Target        `json:"context,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// Evaluator runs registered scripts.
type Evaluator struct {
	registry  *Registry
	database  *services.DatabaseService
	files     *services.FileService
	transfers *Transfers
	logger    logging.Logger
}

func NewEvaluator(registry *Registry, database *services.DatabaseService, files *services.FileService, transfers *Transfers, logger logging.Logger) *Evaluator {
	return &Evaluator{
		registry:  registry,
		database:  database,
		files:     files,
		transfers: transfers,
		logger:    logger.With("module", "scripting"),
	}
}

func (e *Evaluator) Registry() *Registry { return e.registry }

func (e *Evaluator) Transfers() *Transfers { return e.transfers }

func resolveTarget(caller auth.Identity, t *Target) (models.Namespace, error) {
	ns := caller.Namespace()
	if caller.Anonymous {
		ns = models.Namespace{}
	}
	if t != nil {
		if t.UserDID != "" {
			ns.UserDID = t.UserDID
		}
		if t.AppDID != "" {
			ns.AppDID = t.AppDID
		}
	}
	if ns.UserDID == "" || ns.AppDID == "" {
		return models.Namespace{}, common.BadRequestf("target_user and target_app are required")
	}
	if err := ns.Validate(); err != nil {
		return models.Namespace{}, common.BadRequestf("target: %v", err)
	}
	return ns, nil
}

// Run evaluates script name of the target vault for caller. The result maps
// each leaf name to its return value, leaving out leaves with output false.
func (e *Evaluator) Run(ctx context.Context, caller auth.Identity, name string, req RunRequest) (map[string]any, error) {
	target, err := resolveTarget(caller, req.Context)
	if err != nil {
		return nil, err
	}
	if _, err := e.database.Ledger().Get(ctx, target.UserDID); err != nil {
		return nil, err
	}
	script, err := e.registry.Get(ctx, target, name)
	if err != nil {
		return nil, err
	}
	if caller.Anonymous && !script.AllowsAnonymous() {
		return nil, fmt.Errorf("%w: script %s requires authentication", common.ErrorUnauthorized, name)
	}

	env := Env{CallerDID: caller.UserDID, CallerAppDID: caller.AppDID, Params: req.Params}
	if script.Condition != nil {
		ok, err := e.condition(ctx, target, env, script.Condition)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: condition of script %s is not met", common.ErrorForbidden, name)
		}
	}

	out := map[string]any{}
	for _, leaf := range script.Executable.Leaves() {
		res, err := e.execute(ctx, target, env, script, leaf)
		if err != nil {
			return nil, fmt.Errorf("executable %s: %w", leaf.Name, err)
		}
		if leaf.Output {
			out[leaf.Name] = res
		}
	}
	e.logger.Debug(ctx, "script run", "script", name, "target", target.String(), "caller", caller.UserDID)
	return out, nil
}

func (e *Evaluator) condition(ctx context.Context, ns models.Namespace, env Env, c *Condition) (bool, error) {
	switch c.Type {
	case ConditionAnd:
		for _, child := range c.Children {
			ok, err := e.condition(ctx, ns, env, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ConditionOr:
		for _, child := range c.Children {
			ok, err := e.condition(ctx, ns, env, child)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case ConditionQueryHasResults:
		body, err := env.substituteBody(c.Body)
		if err != nil {
			return false, err
		}
		var q struct {
			Collection string                   `json:"collection"`
			Filter     map[string]any           `json:"filter"`
			Options    collections.CountOptions `json:"options"`
		}
		if err := decodeBody(body, &q); err != nil {
			return false, err
		}
		n, err := e.database.Count(ctx, ns, q.Collection, q.Filter, q.Options)
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return n > 0, err
	}
	return false, common.BadRequestf("unknown condition type %q", c.Type)
}

// decodeBody moves a substituted body into its typed form.
func decodeBody(body map[string]any, dst any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return common.BadRequestf("body: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return common.BadRequestf("body: %v", err)
	}
	return nil
}

type findBody struct {
	Collection string                  `json:"collection"`
	Filter     map[string]any          `json:"filter"`
	Options    collections.FindOptions `json:"options"`
}

type insertBody struct {
	Collection string                    `json:"collection"`
	Document   json.RawMessage           `json:"document"`
	Options    collections.InsertOptions `json:"options"`
}

type updateBody struct {
	Collection string                    `json:"collection"`
	Filter     map[string]any            `json:"filter"`
	Update     map[string]any            `json:"update"`
	Options    collections.UpdateOptions `json:"options"`
}

type deleteBody struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
}

func (b insertBody) documents() ([]collections.Document, error) {
	var one collections.Document
	if err := json.Unmarshal(b.Document, &one); err == nil && one != nil {
		return []collections.Document{one}, nil
	}
	var many []collections.Document
	if err := json.Unmarshal(b.Document, &many); err != nil || len(many) == 0 {
		return nil, common.BadRequestf("document must be an object or a list of objects")
	}
	return many, nil
}

func (e *Evaluator) execute(ctx context.Context, ns models.Namespace, env Env, script *Script, leaf *Executable) (any, error) {
	if leaf.Type.isFile() {
		path, _ := leaf.Body["path"].(string)
		path, err := env.Path(path)
		if err != nil {
			return nil, err
		}
		return e.file(ctx, ns, script, leaf.Type, path)
	}

	body, err := env.substituteBody(leaf.Body)
	if err != nil {
		return nil, err
	}

	switch leaf.Type {
	case ExecFind:
		var q findBody
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		items, err := e.database.Find(ctx, ns, q.Collection, q.Filter, q.Options)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items}, nil
	case ExecInsert:
		var q insertBody
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		docs, err := q.documents()
		if err != nil {
			return nil, err
		}
		return e.database.InsertMany(ctx, ns, q.Collection, docs, q.Options)
	case ExecUpdate:
		var q updateBody
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		q.Options.Many = false
		return e.database.Update(ctx, ns, q.Collection, q.Filter, q.Update, q.Options)
	case ExecDelete:
		var q deleteBody
		if err := decodeBody(body, &q); err != nil {
			return nil, err
		}
		return e.database.Delete(ctx, ns, q.Collection, q.Filter, collections.DeleteOptions{})
	}
	return nil, common.BadRequestf("unknown executable type %q", leaf.Type)
}

func (e *Evaluator) file(ctx context.Context, ns models.Namespace, script *Script, typ ExecutableType, path string) (any, error) {
	switch typ {
	case ExecFileUpload, ExecFileDownload:
		dir := auth.Upload
		if typ == ExecFileDownload {
			dir = auth.Download
			if _, err := e.files.Stat(ctx, ns, path); err != nil {
				return nil, err
			}
		}
		handle, err := e.transfers.Mint(ctx, ns, path, dir, script.AllowsAnonymous())
		if err != nil {
			return nil, err
		}
		return map[string]any{"transaction_id": handle}, nil
	case ExecFileProperties:
		st, err := e.files.Stat(ctx, ns, path)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"path":        st.Path,
			"is_file":     st.IsFile,
			"size":        st.Size,
			"last_modify": st.Modified.Unix(),
		}, nil
	case ExecFileHash:
		h, err := e.files.Hash(ctx, ns, path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"SHA256": h}, nil
	}
	return nil, common.BadRequestf("unknown executable type %q", typ)
}
