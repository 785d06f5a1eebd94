package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

func TestResolve_FallsBackFieldByField(t *testing.T) {
	catalog := belt.DefaultCatalog()
	branca, _ := catalog.Get("BRANCA")

	p := &UnitPolicy{
		UnitID:                  "unit-1",
		MinAttendancePercentage: 80,
		AttendanceWindowDays:    60,
		Belts: map[belt.Code]BeltOverride{
			"BRANCA": {AttendancesPerDegree: Int(30)},
		},
	}

	eff := p.Resolve(branca)
	assert.Equal(t, 30, eff.AttendancesPerDegree)
	assert.Equal(t, 4, eff.MaxDegrees)
	assert.Nil(t, eff.MinMonthsInBelt)
	assert.Equal(t, 80.0, eff.MinAttendancePercentage)
	assert.Equal(t, 60, eff.AttendanceWindowDays)
}

func TestResolve_MissingOverrideUsesDefinition(t *testing.T) {
	catalog := belt.DefaultCatalog()
	roxa, _ := catalog.Get("ROXA")

	p := &UnitPolicy{UnitID: "unit-1", MinAttendancePercentage: 75}
	eff := p.Resolve(roxa)

	assert.Equal(t, belt.Code("ROXA"), eff.BeltCode)
	assert.Equal(t, 40, eff.AttendancesPerDegree)
	assert.Equal(t, 4, eff.MaxDegrees)
	assert.Equal(t, DefaultAttendanceWindowDays, eff.AttendanceWindowDays)
}

func TestDefaultUnitPolicy(t *testing.T) {
	catalog := belt.DefaultCatalog()
	p := DefaultUnitPolicy("unit-1", catalog)
	require.NoError(t, p.Validate())

	branca, _ := catalog.Get("BRANCA")
	eff := p.Resolve(branca)
	require.NotNil(t, eff.MinMonthsInBelt)
	assert.Equal(t, 12, *eff.MinMonthsInBelt)

	marrom, _ := catalog.Get("MARROM")
	assert.Equal(t, 18, *p.Resolve(marrom).MinMonthsInBelt)

	preta, _ := catalog.Get("PRETA")
	assert.Nil(t, p.Resolve(preta).MinMonthsInBelt)
	assert.Equal(t, 10, p.Resolve(preta).MaxDegrees)

	kid, _ := catalog.Get("AMARELA_INF")
	effKid := p.Resolve(kid)
	assert.Equal(t, 6, *effKid.MinMonthsInBelt)
	assert.Equal(t, 30, effKid.AttendancesPerDegree)

	assert.Equal(t, 75.0, p.MinAttendancePercentage)
}

func TestUnitPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *UnitPolicy)
		wantErr error
	}{
		{"ok", func(p *UnitPolicy) {}, nil},
		{"percentage above 100", func(p *UnitPolicy) { p.MinAttendancePercentage = 101 }, shared.ErrInvalidPercentage},
		{"negative percentage", func(p *UnitPolicy) { p.MinAttendancePercentage = -1 }, shared.ErrInvalidPercentage},
		{"zero per degree", func(p *UnitPolicy) {
			p.Belts["AZUL"] = BeltOverride{AttendancesPerDegree: Int(0)}
		}, shared.ErrInvalidOverride},
		{"empty unit", func(p *UnitPolicy) { p.UnitID = " " }, shared.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultUnitPolicy("unit-1", nil)
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	p := DefaultUnitPolicy("unit-1", nil)
	cp := p.Clone()
	*cp.Belts["BRANCA"].MinMonthsInBelt = 1

	assert.Equal(t, 12, *p.Belts["BRANCA"].MinMonthsInBelt)
}
