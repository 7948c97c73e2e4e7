package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"infothon/internal/model"
)

var ErrEventNotFound = errors.New("event not found")

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Catalog is the read-only set of purchasable event packages.
type Catalog struct {
	events map[string]model.EventPackage
	order  []string
}

type file struct {
	Events []model.EventPackage `yaml:"events"`
}

// Default returns the catalog compiled into the binary. It panics if the embedded
// definition is invalid, which can only happen on a bad build.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(defaultCatalog)
		if err != nil {
			panic(fmt.Sprintf("embedded catalog: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

func Load(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Events...)
}

func New(events ...model.EventPackage) (*Catalog, error) {
	c := &Catalog{events: make(map[string]model.EventPackage, len(events))}
	for _, e := range events {
		if e.ID == "" {
			return nil, fmt.Errorf("event %q: id is required", e.Title)
		}
		if _, dup := c.events[e.ID]; dup {
			return nil, fmt.Errorf("event %q: duplicate id", e.ID)
		}
		if e.Price < 0 {
			return nil, fmt.Errorf("event %q: negative price", e.ID)
		}
		if e.TeamMaxSize > 0 || e.TeamMinSize > 0 {
			if e.TeamMinSize < 1 || e.TeamMinSize > e.TeamMaxSize || e.TeamMaxSize > model.MaxTeamMembers {
				return nil, fmt.Errorf("event %q: team size bounds %d..%d out of range", e.ID, e.TeamMinSize, e.TeamMaxSize)
			}
		}
		c.events[e.ID] = e
		c.order = append(c.order, e.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func (c *Catalog) GetEvent(id string) (model.EventPackage, error) {
	e, ok := c.events[id]
	if !ok {
		return model.EventPackage{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return e, nil
}

func (c *Catalog) List() []model.EventPackage {
	out := make([]model.EventPackage, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.events[id])
	}
	return out
}
