package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
)

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
		assert.NotEmpty(t, m.DownSQL, m.Name)
	}
}

func TestSeedCatalogSQL(t *testing.T) {
	sql := seedCatalogSQL([]*belt.Definition{
		{Code: "BRANCA", Name: "Branca", ColorHex: "#FFFFFF", DisplayOrder: 1, MaxDegrees: 4, DefaultAttendancesPerDegree: 40, Category: belt.CategoryAdult, Active: true},
		{Code: "CORAL", Name: "Coral d'Ouro", ColorHex: "#FF7F50", DisplayOrder: 6, MaxDegrees: 2, DefaultAttendancesPerDegree: 60, Category: belt.CategoryAdult, Active: false},
	})

	assert.Contains(t, sql, "('BRANCA', 'Branca', '#FFFFFF', 1, 4, 40, 'ADULT', true)")
	assert.Contains(t, sql, "'Coral d''Ouro'")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "ON CONFLICT (code) DO NOTHING;"))
}

func TestSchema_OneOpenCyclePerStudent(t *testing.T) {
	assert.Contains(t, migration002Up, "uq_belt_cycles_open_student ON belt_cycles(student_id) WHERE ended_at IS NULL")
	assert.Contains(t, migration002Up, "uq_degree_number UNIQUE (cycle_id, degree_number)")
}
