package scripting

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/quota"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
)

// Registry persists scripts in the reserved scripts collection of the
// owner's namespace.
type Registry struct {
	database *services.DatabaseService
}

func NewRegistry(database *services.DatabaseService) *Registry {
	return &Registry{database: database}
}

func byName(name string) map[string]any { return map[string]any{"name": name} }

// Put registers s under ns, replacing a script of the same name.
func (r *Registry) Put(ctx context.Context, ns models.Namespace, s *Script) error {
	escaped, err := escapeKeys(s.Map())
	if err != nil {
		return err
	}
	doc := escaped.(map[string]any)
	doc["name"] = s.Name

	return r.database.Reserved(ctx, ns.UserDID, quota.ModeWrite, func(c *collections.Service) error {
		if err := c.EnsureCollection(ctx, ns, common.ScriptsCollection); err != nil {
			return err
		}
		_, err := c.Update(ctx, ns, common.ScriptsCollection, byName(s.Name), doc, collections.UpdateOptions{Upsert: true})
		return err
	})
}

// Get loads a script; a missing script is not_found.
func (r *Registry) Get(ctx context.Context, ns models.Namespace, name string) (*Script, error) {
	docs, err := r.database.Collections().Find(ctx, ns, common.ScriptsCollection, byName(name), collections.FindOptions{Limit: 1})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NotFoundf("script %s", name)
	}
	raw := unescapeKeys(docs[0]).(map[string]any)
	return Parse(name, raw)
}

// Delete unregisters a script and reports whether it existed.
func (r *Registry) Delete(ctx context.Context, ns models.Namespace, name string) (bool, error) {
	var deleted bool
	err := r.database.Reserved(ctx, ns.UserDID, quota.ModeDelete, func(c *collections.Service) error {
		res, err := c.Delete(ctx, ns, common.ScriptsCollection, byName(name), collections.DeleteOptions{})
		if err != nil {
			return err
		}
		deleted = res.DeletedCount > 0
		return nil
	})
	return deleted, err
}
