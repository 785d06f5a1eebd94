package belt

import (
	"context"
	"sort"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// Catalog is an immutable snapshot of the belt definitions, indexed by code
// and ordered per category.
type Catalog struct {
	byCode     map[Code]*Definition
	byCategory map[Category][]*Definition
}

// NewCatalog builds a catalog. Codes must be unique, and so must the
// (category, display order) pairs.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{
		byCode:     make(map[Code]*Definition, len(defs)),
		byCategory: make(map[Category][]*Definition),
	}

	orders := make(map[Category]map[int]Code)
	for _, d := range defs {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, shared.WrapError("belt", "NewCatalog", shared.ErrAlreadyExists, string(d.Code), shared.ErrBeltExists)
		}
		if orders[d.Category] == nil {
			orders[d.Category] = make(map[int]Code)
		}
		if other, taken := orders[d.Category][d.DisplayOrder]; taken {
			return nil, shared.Errorf("belt", "NewCatalog", shared.ErrInvalidInput,
				"%s and %s share display order %d", other, d.Code, d.DisplayOrder)
		}
		orders[d.Category][d.DisplayOrder] = d.Code

		cp := *d
		c.byCode[d.Code] = &cp
		c.byCategory[d.Category] = append(c.byCategory[d.Category], &cp)
	}

	for cat := range c.byCategory {
		ladder := c.byCategory[cat]
		sort.Slice(ladder, func(i, j int) bool {
			return ladder[i].DisplayOrder < ladder[j].DisplayOrder
		})
	}

	return c, nil
}

// Get returns a copy of the definition with the given code.
func (c *Catalog) Get(code Code) (*Definition, error) {
	d, ok := c.byCode[code]
	if !ok {
		return nil, shared.WrapError("belt", "Get", shared.ErrNotFound, string(code), shared.ErrBeltNotFound)
	}
	cp := *d
	return &cp, nil
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.byCode)
}

// ByCategory returns the ladder for a category in display order,
// inactive belts included.
func (c *Catalog) ByCategory(cat Category) []Definition {
	ladder := c.byCategory[cat]
	out := make([]Definition, len(ladder))
	for i, d := range ladder {
		out[i] = *d
	}
	return out
}

// Next returns the next active belt after code within the same category.
func (c *Catalog) Next(code Code) (*Definition, error) {
	cur, ok := c.byCode[code]
	if !ok {
		return nil, shared.WrapError("belt", "Next", shared.ErrNotFound, string(code), shared.ErrBeltNotFound)
	}
	for _, d := range c.byCategory[cur.Category] {
		if d.DisplayOrder > cur.DisplayOrder && d.Active {
			cp := *d
			return &cp, nil
		}
	}
	return nil, shared.ErrNoNextBelt
}

// IsImmediateNext reports whether to directly follows from on the ladder.
// Deactivated belts in between are skipped, so retiring a belt does not
// strand the students below it.
func (c *Catalog) IsImmediateNext(from, to Code) bool {
	next, err := c.Next(from)
	if err != nil {
		return false
	}
	return next.Code == to
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists belt definitions.
type Repository interface {
	// List returns every definition, active or not.
	List(ctx context.Context) ([]*Definition, error)

	// Get returns one definition. Returns ErrBeltNotFound when missing.
	Get(ctx context.Context, code Code) (*Definition, error)

	// Save inserts or updates a definition.
	Save(ctx context.Context, def *Definition) error

	// Deactivate flags a definition inactive.
	Deactivate(ctx context.Context, code Code) error
}

// LoadCatalog reads every definition from the repository into a Catalog.
func LoadCatalog(ctx context.Context, repo Repository) (*Catalog, error) {
	defs, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(defs...)
}
