// Package policy holds the per-unit graduation settings and resolves the
// effective limits for a belt: a unit override wins field by field, anything
// left unset falls back to the belt definition.
package policy

import (
	"context"
	"strings"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// DefaultMinAttendancePercentage applies when a unit never configured one.
const DefaultMinAttendancePercentage = 75.0

// DefaultAttendanceWindowDays is the look-back window for the attendance rate.
const DefaultAttendanceWindowDays = 90

// BeltOverride holds unit-specific limits for one belt. Nil fields inherit.
type BeltOverride struct {
	MinMonthsInBelt      *int `json:"min_months_in_belt,omitempty"`
	AttendancesPerDegree *int `json:"attendances_per_degree,omitempty"`
	MaxDegrees           *int `json:"max_degrees,omitempty"`
}

func (o BeltOverride) validate() error {
	if o.MinMonthsInBelt != nil && *o.MinMonthsInBelt < 0 {
		return shared.ErrInvalidOverride
	}
	if o.AttendancesPerDegree != nil && *o.AttendancesPerDegree < 1 {
		return shared.ErrInvalidOverride
	}
	if o.MaxDegrees != nil && *o.MaxDegrees < 1 {
		return shared.ErrInvalidOverride
	}
	return nil
}

// UnitPolicy is the graduation configuration of a single unit (academy).
type UnitPolicy struct {
	UnitID                  string                     `json:"unit_id"`
	MinAttendancePercentage float64                    `json:"min_attendance_percentage"`
	AttendanceWindowDays    int                        `json:"attendance_window_days"`
	AutoApproveDegrees      bool                       `json:"auto_approve_degrees"`
	AutoApprovePromotions   bool                       `json:"auto_approve_promotions"`
	Belts                   map[belt.Code]BeltOverride `json:"belts"`
	UpdatedAt               time.Time                  `json:"updated_at"`
}

// Validate checks the policy invariants.
func (p *UnitPolicy) Validate() error {
	if strings.TrimSpace(p.UnitID) == "" {
		return shared.NewDomainError("policy", "Validate", shared.ErrInvalidInput, "unit id is required")
	}
	if p.MinAttendancePercentage < 0 || p.MinAttendancePercentage > 100 {
		return shared.ErrInvalidPercentage
	}
	if p.AttendanceWindowDays < 1 {
		return shared.NewDomainError("policy", "Validate", shared.ErrValueOutOfRange, "attendance window must be at least one day")
	}
	for code, o := range p.Belts {
		if err := o.validate(); err != nil {
			return shared.WrapError("policy", "Validate", shared.ErrValueOutOfRange, string(code), err)
		}
	}
	return nil
}

// Effective is the resolved set of limits for one (unit, belt) pair.
type Effective struct {
	UnitID                  string
	BeltCode                belt.Code
	MinMonthsInBelt         *int
	AttendancesPerDegree    int
	MaxDegrees              int
	MinAttendancePercentage float64
	AttendanceWindowDays    int
}

// Resolve merges the unit override for def with def's defaults.
// A missing override is not an error.
func (p *UnitPolicy) Resolve(def *belt.Definition) Effective {
	eff := Effective{
		UnitID:                  p.UnitID,
		BeltCode:                def.Code,
		AttendancesPerDegree:    def.DefaultAttendancesPerDegree,
		MaxDegrees:              def.MaxDegrees,
		MinAttendancePercentage: p.MinAttendancePercentage,
		AttendanceWindowDays:    p.AttendanceWindowDays,
	}
	if eff.AttendanceWindowDays < 1 {
		eff.AttendanceWindowDays = DefaultAttendanceWindowDays
	}

	o, ok := p.Belts[def.Code]
	if !ok {
		return eff
	}
	if o.MinMonthsInBelt != nil {
		v := *o.MinMonthsInBelt
		eff.MinMonthsInBelt = &v
	}
	if o.AttendancesPerDegree != nil {
		eff.AttendancesPerDegree = *o.AttendancesPerDegree
	}
	if o.MaxDegrees != nil {
		eff.MaxDegrees = *o.MaxDegrees
	}
	return eff
}

// Clone returns a deep copy.
func (p *UnitPolicy) Clone() *UnitPolicy {
	cp := *p
	cp.Belts = make(map[belt.Code]BeltOverride, len(p.Belts))
	for k, o := range p.Belts {
		cp.Belts[k] = BeltOverride{
			MinMonthsInBelt:      clonePtr(o.MinMonthsInBelt),
			AttendancesPerDegree: clonePtr(o.AttendancesPerDegree),
			MaxDegrees:           clonePtr(o.MaxDegrees),
		}
	}
	return &cp
}

func clonePtr(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// Int is a helper for building overrides inline.
func Int(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULTS
// ══════════════════════════════════════════════════════════════════════════════

var defaultMinMonths = map[belt.Code]*int{
	"BRANCA": Int(12),
	"AZUL":   Int(24),
	"ROXA":   Int(24),
	"MARROM": Int(18),
	"PRETA":  nil,
}

const childMinMonths = 6

// DefaultUnitPolicy returns the configuration a new unit starts with.
// Attendances per degree and degree caps stay with the catalog; only the
// minimum time in belt is set per belt.
func DefaultUnitPolicy(unitID string, catalog *belt.Catalog) *UnitPolicy {
	p := &UnitPolicy{
		UnitID:                  unitID,
		MinAttendancePercentage: DefaultMinAttendancePercentage,
		AttendanceWindowDays:    DefaultAttendanceWindowDays,
		AutoApproveDegrees:      true,
		Belts:                   make(map[belt.Code]BeltOverride),
		UpdatedAt:               time.Now().UTC(),
	}
	for code, months := range defaultMinMonths {
		p.Belts[code] = BeltOverride{MinMonthsInBelt: clonePtr(months)}
	}
	if catalog != nil {
		for _, d := range catalog.ByCategory(belt.CategoryChild) {
			p.Belts[d.Code] = BeltOverride{MinMonthsInBelt: Int(childMinMonths)}
		}
	}
	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists unit policies.
type Repository interface {
	// Get returns the policy of a unit. An unknown unit yields ErrUnitPolicyNotFound.
	Get(ctx context.Context, unitID string) (*UnitPolicy, error)

	// Save replaces the unit policy.
	Save(ctx context.Context, p *UnitPolicy) error

	// ListUnits returns every configured unit id.
	ListUnits(ctx context.Context) ([]string, error)
}

// EffectiveFor loads the unit policy and resolves def against it.
func EffectiveFor(ctx context.Context, repo Repository, unitID string, def *belt.Definition) (Effective, error) {
	p, err := repo.Get(ctx, unitID)
	if err != nil {
		return Effective{}, err
	}
	return p.Resolve(def), nil
}
