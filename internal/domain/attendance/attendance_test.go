package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

func TestRate(t *testing.T) {
	tests := []struct {
		name  string
		rate  Rate
		min   float64
		pct   float64
		meets bool
	}{
		{"80 of 100 at 75", Rate{Taken: 80, Expected: 100}, 75, 80, true},
		{"60 of 100 at 75", Rate{Taken: 60, Expected: 100}, 75, 60, false},
		{"exact threshold", Rate{Taken: 3, Expected: 4}, 75, 75, true},
		{"no sessions", Rate{Taken: 0, Expected: 0}, 75, 0, false},
		{"no sessions, zero minimum", Rate{}, 0, 0, true},
		{"more check-ins than sessions", Rate{Taken: 12, Expected: 10}, 100, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.pct, tt.rate.Percentage(), 0.0001)
			assert.Equal(t, tt.meets, tt.rate.Meets(tt.min))
		})
	}
}

func TestCheckIn_Validate(t *testing.T) {
	ok := CheckIn{ID: "c1", StudentID: "s1", UnitID: "u1", CheckedInAt: time.Now()}
	assert.NoError(t, ok.Validate())

	missing := ok
	missing.StudentID = ""
	assert.ErrorIs(t, missing.Validate(), shared.ErrInvalidCheckIn)

	zero := ok
	zero.CheckedInAt = time.Time{}
	assert.ErrorIs(t, zero.Validate(), shared.ErrInvalidCheckIn)
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)
	from, to := Window(now, 90)
	assert.Equal(t, now, to)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), from)
}
