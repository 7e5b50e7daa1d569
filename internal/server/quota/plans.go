package quota

import (
	"fmt"
	"sort"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

// FreePlanName names the plan every new vault starts on and every expired
// vault returns to.
const FreePlanName = "free"

// Plans is an immutable plan catalogue.
type Plans struct {
	byName map[string]models.Plan
	order  []string
}

func NewPlans(list []models.Plan) (*Plans, error) {
	p := &Plans{byName: make(map[string]models.Plan, len(list))}
	for _, pl := range list {
		if pl.Name == "" {
			return nil, fmt.Errorf("plan without name")
		}
		if pl.MaxBytes <= 0 {
			return nil, fmt.Errorf("plan %s: max bytes must be positive", pl.Name)
		}
		if _, dup := p.byName[pl.Name]; dup {
			return nil, fmt.Errorf("duplicate plan %s", pl.Name)
		}
		p.byName[pl.Name] = pl
		p.order = append(p.order, pl.Name)
	}
	if _, ok := p.byName[FreePlanName]; !ok {
		return nil, fmt.Errorf("plan %q is required", FreePlanName)
	}
	return p, nil
}

func (p *Plans) Get(name string) (models.Plan, error) {
	pl, ok := p.byName[name]
	if !ok {
		return models.Plan{}, common.NotFoundf("plan %s", name)
	}
	return pl, nil
}

func (p *Plans) Free() models.Plan { return p.byName[FreePlanName] }

// List returns the plans ordered by max bytes.
func (p *Plans) List() []models.Plan {
	out := make([]models.Plan, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.byName[n])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaxBytes < out[j].MaxBytes })
	return out
}
