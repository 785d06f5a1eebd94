package command

import (
	"context"
	"fmt"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE UNIT POLICY COMMAND
// Replaces a unit's graduation settings. The new values govern every
// pending evaluation from now on; nothing is re-evaluated retroactively.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateUnitPolicyCommand carries the full policy of a unit.
type UpdateUnitPolicyCommand struct {
	Policy *policy.UnitPolicy `validate:"required"`

	// UseDefaults fills belts without an override from the standard table.
	UseDefaults bool
}

// UpdateUnitPolicyHandler handles UpdateUnitPolicyCommand.
type UpdateUnitPolicyHandler struct {
	deps Deps
}

// NewUpdateUnitPolicyHandler creates a new UpdateUnitPolicyHandler.
func NewUpdateUnitPolicyHandler(deps Deps) *UpdateUnitPolicyHandler {
	return &UpdateUnitPolicyHandler{deps: deps.withDefaults()}
}

// Handle validates and stores the policy.
func (h *UpdateUnitPolicyHandler) Handle(ctx context.Context, cmd UpdateUnitPolicyCommand) (*policy.UnitPolicy, error) {
	if err := validateCommand("UpdateUnitPolicy", cmd); err != nil {
		return nil, err
	}

	catalog := h.deps.Catalog.Current()
	p := cmd.Policy.Clone()
	if p.Belts == nil {
		p.Belts = make(map[belt.Code]policy.BeltOverride)
	}
	if cmd.UseDefaults {
		for code, o := range policy.DefaultUnitPolicy(p.UnitID, catalog).Belts {
			if _, ok := p.Belts[code]; !ok {
				p.Belts[code] = o
			}
		}
	}
	for code := range p.Belts {
		if _, err := catalog.Get(code); err != nil {
			return nil, shared.WrapError("policy", "Validate", shared.ErrInvalidInput, string(code), err)
		}
	}
	p.UpdatedAt = h.deps.Now()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := h.deps.Policies.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("update_unit_policy: %w", err)
	}

	h.deps.Logger.Info("unit policy updated", "unit_id", p.UnitID, "min_attendance_pct", p.MinAttendancePercentage, "overrides", len(p.Belts))
	h.deps.publish(shared.NewUnitPolicyUpdatedEvent(p.UnitID, p.MinAttendancePercentage, len(p.Belts), p.UpdatedAt))

	return p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BELT CATALOG ADMINISTRATION
// Definitions are never deleted, only deactivated. Both commands reload the
// catalog so later commands see the change.
// ══════════════════════════════════════════════════════════════════════════════

// DefineBeltCommand inserts or updates a belt definition.
type DefineBeltCommand struct {
	Code                        string `validate:"required"`
	Name                        string
	ColorHex                    string `validate:"omitempty,hexcolor"`
	DisplayOrder                int    `validate:"min=1"`
	MaxDegrees                  int    `validate:"min=1"`
	DefaultAttendancesPerDegree int    `validate:"min=1"`
	Category                    string `validate:"required,oneof=CHILD ADULT"`
}

// CatalogAdminHandler handles catalog commands.
type CatalogAdminHandler struct {
	deps Deps
}

// NewCatalogAdminHandler creates a new CatalogAdminHandler.
func NewCatalogAdminHandler(deps Deps) *CatalogAdminHandler {
	return &CatalogAdminHandler{deps: deps.withDefaults()}
}

// Define stores a definition and reloads the catalog.
func (h *CatalogAdminHandler) Define(ctx context.Context, cmd DefineBeltCommand) (*belt.Definition, error) {
	if err := validateCommand("DefineBelt", cmd); err != nil {
		return nil, err
	}
	repo := h.deps.Catalog.Repository()
	if repo == nil {
		return nil, shared.NewDomainError("belt", "Save", shared.ErrInvalidState, "catalog is read-only")
	}

	def, err := belt.NewDefinition(belt.NewDefinitionParams{
		Code:                        cmd.Code,
		Name:                        cmd.Name,
		ColorHex:                    cmd.ColorHex,
		DisplayOrder:                cmd.DisplayOrder,
		MaxDegrees:                  cmd.MaxDegrees,
		DefaultAttendancesPerDegree: cmd.DefaultAttendancesPerDegree,
		Category:                    belt.Category(cmd.Category),
	})
	if err != nil {
		return nil, err
	}
	def.UpdatedAt = h.deps.Now()

	if err := repo.Save(ctx, def); err != nil {
		return nil, fmt.Errorf("define_belt: %w", err)
	}
	if err := h.deps.Catalog.Reload(ctx); err != nil {
		return nil, fmt.Errorf("define_belt: reload: %w", err)
	}

	h.deps.Logger.Info("belt defined", "code", def.Code, "category", def.Category, "order", def.DisplayOrder)
	return def, nil
}

// Deactivate flags a belt inactive and reloads the catalog. Students who
// hold it keep their cycle; nobody can be promoted into it.
func (h *CatalogAdminHandler) Deactivate(ctx context.Context, code string) error {
	repo := h.deps.Catalog.Repository()
	if repo == nil {
		return shared.NewDomainError("belt", "Deactivate", shared.ErrInvalidState, "catalog is read-only")
	}
	if err := repo.Deactivate(ctx, belt.NormalizeCode(code)); err != nil {
		return fmt.Errorf("deactivate_belt: %w", err)
	}
	if err := h.deps.Catalog.Reload(ctx); err != nil {
		return fmt.Errorf("deactivate_belt: reload: %w", err)
	}
	h.deps.Logger.Info("belt deactivated", "code", code)
	return nil
}
