package belt

import (
	"regexp"
	"strings"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Category separates the children's belt ladder from the adult one.
// Belts are only ordered within a category.
type Category string

const (
	// CategoryChild - kids ladder (BRANCA_INF ... VERDE_PRETA_INF).
	CategoryChild Category = "CHILD"

	// CategoryAdult - adult ladder (BRANCA ... PRETA).
	CategoryAdult Category = "ADULT"
)

// IsValid checks the category value.
func (c Category) IsValid() bool {
	return c == CategoryChild || c == CategoryAdult
}

// Code is the unique catalog code of a belt, e.g. "AZUL".
type Code string

var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,29}$`)

// NormalizeCode upper-cases and trims a raw code.
func NormalizeCode(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsValid checks the code format.
func (c Code) IsValid() bool {
	return codePattern.MatchString(string(c))
}

// String implements fmt.Stringer.
func (c Code) String() string {
	return string(c)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Definition is one catalog entry. Definitions are referenced by history rows
// and therefore never deleted, only deactivated.
type Definition struct {
	Code                        Code
	Name                        string
	ColorHex                    string
	DisplayOrder                int
	MaxDegrees                  int
	DefaultAttendancesPerDegree int
	Category                    Category
	Active                      bool
	UpdatedAt                   time.Time
}

// NewDefinitionParams holds the input for NewDefinition.
type NewDefinitionParams struct {
	Code                        string
	Name                        string
	ColorHex                    string
	DisplayOrder                int
	MaxDegrees                  int
	DefaultAttendancesPerDegree int
	Category                    Category
}

// NewDefinition validates params and builds an active Definition.
func NewDefinition(p NewDefinitionParams) (*Definition, error) {
	def := &Definition{
		Code:                        NormalizeCode(p.Code),
		Name:                        strings.TrimSpace(p.Name),
		ColorHex:                    p.ColorHex,
		DisplayOrder:                p.DisplayOrder,
		MaxDegrees:                  p.MaxDegrees,
		DefaultAttendancesPerDegree: p.DefaultAttendancesPerDegree,
		Category:                    p.Category,
		Active:                      true,
		UpdatedAt:                   time.Now().UTC(),
	}
	if def.Name == "" {
		def.Name = string(def.Code)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks the definition invariants.
func (d *Definition) Validate() error {
	if !d.Code.IsValid() {
		return shared.ErrInvalidBeltCode
	}
	if !d.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	if d.DisplayOrder < 1 {
		return shared.Errorf("belt", "Validate", shared.ErrValueOutOfRange, "display order of %s must be positive", d.Code)
	}
	if d.MaxDegrees < 1 || d.DefaultAttendancesPerDegree < 1 {
		return shared.ErrInvalidBeltLimit
	}
	return nil
}

// Deactivate hides the belt from sequencing without removing it.
func (d *Definition) Deactivate(now time.Time) {
	d.Active = false
	d.UpdatedAt = now
}

// Ranks reports whether d sits above other on the same ladder.
func (d *Definition) Ranks(other *Definition) bool {
	return d.Category == other.Category && d.DisplayOrder > other.DisplayOrder
}
