package belt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

func TestDefaultCatalog_Ladders(t *testing.T) {
	c := DefaultCatalog()

	adult := c.ByCategory(CategoryAdult)
	require.Len(t, adult, 5)
	assert.Equal(t, Code("BRANCA"), adult[0].Code)
	assert.Equal(t, Code("PRETA"), adult[4].Code)
	assert.Equal(t, 10, adult[4].MaxDegrees)

	child := c.ByCategory(CategoryChild)
	require.Len(t, child, 13)
	for _, d := range child {
		assert.Equal(t, 30, d.DefaultAttendancesPerDegree, d.Code)
	}
}

func TestCatalog_Next(t *testing.T) {
	c := DefaultCatalog()

	next, err := c.Next("BRANCA")
	require.NoError(t, err)
	assert.Equal(t, Code("AZUL"), next.Code)

	next, err = c.Next("CINZA_PRETA_INF")
	require.NoError(t, err)
	assert.Equal(t, Code("AMAR_BRANCA_INF"), next.Code)

	_, err = c.Next("PRETA")
	assert.True(t, errors.Is(err, shared.ErrNoNextBelt))

	_, err = c.Next("CORAL")
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalog_NextSkipsInactive(t *testing.T) {
	defs := DefaultDefinitions()
	for _, d := range defs {
		if d.Code == "AZUL" {
			d.Active = false
		}
	}
	c, err := NewCatalog(defs...)
	require.NoError(t, err)

	next, err := c.Next("BRANCA")
	require.NoError(t, err)
	assert.Equal(t, Code("ROXA"), next.Code)
	assert.True(t, c.IsImmediateNext("BRANCA", "ROXA"))
	assert.False(t, c.IsImmediateNext("BRANCA", "AZUL"))
}

func TestCatalog_IsImmediateNext(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		from, to Code
		want     bool
	}{
		{"BRANCA", "AZUL", true},
		{"BRANCA", "PRETA", false},
		{"AZUL", "BRANCA", false},
		{"VERDE_PRETA_INF", "AZUL", false},
		{"BRANCA_INF", "AZUL", false},
		{"MARROM", "PRETA", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsImmediateNext(tt.from, tt.to))
		})
	}
}

func TestNewCatalog_RejectsDuplicates(t *testing.T) {
	a := &Definition{Code: "BRANCA", DisplayOrder: 1, MaxDegrees: 4, DefaultAttendancesPerDegree: 40, Category: CategoryAdult, Active: true}
	b := *a
	_, err := NewCatalog(a, &b)
	assert.True(t, shared.IsAlreadyExists(err))

	b.Code = "CRUA"
	_, err = NewCatalog(a, &b)
	assert.True(t, shared.IsValidation(err))

	b.Category = CategoryChild
	_, err = NewCatalog(a, &b)
	assert.NoError(t, err)
}

func TestNewDefinition_Validation(t *testing.T) {
	def, err := NewDefinition(NewDefinitionParams{
		Code:                        " coral ",
		DisplayOrder:                6,
		MaxDegrees:                  2,
		DefaultAttendancesPerDegree: 60,
		Category:                    CategoryAdult,
	})
	require.NoError(t, err)
	assert.Equal(t, Code("CORAL"), def.Code)
	assert.Equal(t, "CORAL", def.Name)
	assert.True(t, def.Active)

	_, err = NewDefinition(NewDefinitionParams{Code: "X", DisplayOrder: 1, MaxDegrees: 1, DefaultAttendancesPerDegree: 1, Category: CategoryAdult})
	assert.ErrorIs(t, err, shared.ErrInvalidBeltCode)

	_, err = NewDefinition(NewDefinitionParams{Code: "CORAL", DisplayOrder: 1, MaxDegrees: 0, DefaultAttendancesPerDegree: 1, Category: CategoryAdult})
	assert.ErrorIs(t, err, shared.ErrInvalidBeltLimit)

	_, err = NewDefinition(NewDefinitionParams{Code: "CORAL", DisplayOrder: 1, MaxDegrees: 1, DefaultAttendancesPerDegree: 1, Category: "SENIOR"})
	assert.ErrorIs(t, err, shared.ErrInvalidCategory)
}
