package strategy

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/models"
	gormrepository "crmsync/internal/repository/gorm"
)

// Deps is what every strategy factory needs.
type Deps struct {
	DB         *gorm.DB
	API        API
	PageSize   int
	Partitions map[string][]string
	Now        func() time.Time
}

type Factory func(deps Deps) Strategy

var factories = map[string]Factory{
	"account": func(d Deps) Strategy {
		return build[models.Account, *models.Account](d, accountDesc, accountMapper{}, gormrepository.NewEntityTable[models.Account, *models.Account](d.DB, accountDesc.EntityType))
	},
	"contact": func(d Deps) Strategy {
		return build[models.Contact, *models.Contact](d, contactDesc, contactMapper{}, gormrepository.NewEntityTable[models.Contact, *models.Contact](d.DB, contactDesc.EntityType))
	},
	"opportunity": func(d Deps) Strategy {
		return build[models.Opportunity, *models.Opportunity](d, opportunityDesc, opportunityMapper{}, gormrepository.NewEntityTable[models.Opportunity, *models.Opportunity](d.DB, opportunityDesc.EntityType))
	},
	"task": func(d Deps) Strategy {
		return build[models.Task, *models.Task](d, taskDesc, taskMapper{}, gormrepository.NewEntityTable[models.Task, *models.Task](d.DB, taskDesc.EntityType))
	},
	"custom_field": func(d Deps) Strategy {
		return build[models.CustomField, *models.CustomField](d, customFieldDesc, customFieldMapper{}, gormrepository.NewEntityTable[models.CustomField, *models.CustomField](d.DB, customFieldDesc.EntityType))
	},
}

func build[T any, PT syncable[T]](d Deps, desc Descriptor, mapper Mapper[T], repo *gormrepository.EntityTable[T, PT]) Strategy {
	s := NewEntityStrategy[T, PT](desc, d.API, repo, mapper)
	s.PageSize = d.PageSize
	s.PartitionIDs = cleanPartitions(d.Partitions[desc.EntityType])
	s.Now = d.Now
	return s
}

// Known lists the strategy keys accepted in configuration.
func Known() []string {
	return []string{"account", "contact", "opportunity", "task", "custom_field"}
}

// Registry is the ordered list of configured strategies.
type Registry struct {
	items []Strategy
}

func NewRegistry(items ...Strategy) *Registry {
	return &Registry{items: items}
}

// Build creates the strategies named in config, in config order.
func Build(names []string, deps Deps) (*Registry, error) {
	reg := &Registry{}
	seen := map[string]bool{}
	for _, raw := range names {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" || seen[key] {
			continue
		}
		factory, ok := factories[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, raw)
		}
		seen[key] = true
		reg.items = append(reg.items, factory(deps))
	}
	return reg, nil
}

func (r *Registry) All() []Strategy {
	if r == nil {
		return nil
	}
	out := make([]Strategy, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, s.Name())
	}
	return out
}

// Select returns the requested strategies in registry order. Names match the
// strategy name or entity type, case-insensitively. Empty selects all.
func (r *Registry) Select(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := map[string]bool{}
	for _, raw := range names {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		if r.lookup(key) == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, raw)
		}
		want[key] = true
	}
	if len(want) == 0 {
		return r.All(), nil
	}
	var out []Strategy
	for _, s := range r.All() {
		if want[strings.ToLower(s.Name())] || want[strings.ToLower(s.EntityType())] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Registry) ByEntityType(entityType string) (Strategy, bool) {
	s := r.lookup(strings.ToLower(strings.TrimSpace(entityType)))
	return s, s != nil
}

func (r *Registry) lookup(key string) Strategy {
	if r == nil {
		return nil
	}
	for _, s := range r.items {
		if strings.ToLower(s.Name()) == key || strings.ToLower(s.EntityType()) == key {
			return s
		}
	}
	return nil
}

func cleanPartitions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
