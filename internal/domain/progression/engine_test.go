package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/pkg/timeutil"
)

func brancaPolicy(t *testing.T) policy.Effective {
	t.Helper()
	catalog := belt.DefaultCatalog()
	def, err := catalog.Get("BRANCA")
	require.NoError(t, err)
	return policy.DefaultUnitPolicy("unit-1", catalog).Resolve(def)
}

func newCycle(t *testing.T, started time.Time) *BeltCycle {
	t.Helper()
	c, err := OpenCycle(OpenCycleParams{
		ID:        "cycle-1",
		StudentID: "student-1",
		UnitID:    "unit-1",
		BeltCode:  "BRANCA",
		StartedAt: started,
	})
	require.NoError(t, err)
	return c
}

func TestEvaluate_DegreeDueAfterFortyAttendances(t *testing.T) {
	eff := brancaPolicy(t)
	c := newCycle(t, timeutil.Date(2024, 1, 10))

	_, err := c.RecordAttendance(39, eff)
	require.NoError(t, err)

	st, err := Evaluate(EvaluationInput{Cycle: c, Policy: eff, Now: timeutil.Date(2024, 4, 1)})
	require.NoError(t, err)
	assert.Equal(t, StatusNoChange, st.Kind)
	assert.Equal(t, 1, st.AttendancesToNextDegree)
	assert.Equal(t, PhaseInCycle, st.Phase())

	_, err = c.RecordAttendance(1, eff)
	require.NoError(t, err)

	st, err = Evaluate(EvaluationInput{Cycle: c, Policy: eff, Now: timeutil.Date(2024, 4, 1)})
	require.NoError(t, err)
	assert.Equal(t, StatusDegreeDue, st.Kind)
	assert.Equal(t, 1, st.DegreesDue)
	assert.False(t, st.HeldAtCap)

	g, err := c.GrantDegree(eff, GrantParams{ID: "g1", Origin: OriginAutomatic})
	require.NoError(t, err)
	assert.Equal(t, 1, g.DegreeNumber)
	assert.Equal(t, 1, c.DegreesGranted)
	assert.Equal(t, 0, c.AttendancesSinceLastDegree)
	assert.Equal(t, 40, c.AttendancesTotal)
}

func capCycle(t *testing.T, eff policy.Effective, started time.Time) *BeltCycle {
	t.Helper()
	c := newCycle(t, started)
	for i := 0; i < eff.MaxDegrees; i++ {
		_, err := c.RecordAttendance(eff.AttendancesPerDegree, eff)
		require.NoError(t, err)
		_, err = c.GrantDegree(eff, GrantParams{ID: "g", Origin: OriginAutomatic})
		require.NoError(t, err)
	}
	require.Equal(t, 4, c.DegreesGranted)
	return c
}

func TestEvaluate_EligibleAtCapWhenGatesPass(t *testing.T) {
	eff := brancaPolicy(t)
	c := capCycle(t, eff, timeutil.Date(2023, 1, 10))

	st, err := Evaluate(EvaluationInput{
		Cycle:  c,
		Policy: eff,
		Rate:   attendance.Rate{Taken: 80, Expected: 100},
		Now:    timeutil.Date(2024, 2, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBeltChangeEligible, st.Kind)
	assert.Equal(t, 0, st.DegreesDue)
	assert.False(t, st.HeldAtCap)
	assert.Empty(t, st.FailedGates())
	assert.Equal(t, PhaseEligible, st.Phase())
	assert.Equal(t, 1.0, st.Progress())
}

func TestEvaluate_HeldAtCapOnLowAttendance(t *testing.T) {
	eff := brancaPolicy(t)
	c := capCycle(t, eff, timeutil.Date(2023, 1, 10))

	st, err := Evaluate(EvaluationInput{
		Cycle:  c,
		Policy: eff,
		Rate:   attendance.Rate{Taken: 60, Expected: 100},
		Now:    timeutil.Date(2024, 2, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDegreeDue, st.Kind)
	assert.Equal(t, 0, st.DegreesDue)
	assert.True(t, st.HeldAtCap)
	assert.Equal(t, PhaseCapReached, st.Phase())

	failed := st.FailedGates()
	require.Len(t, failed, 1)
	assert.Equal(t, GateAttendancePercentage, failed[0].Name)
	assert.Equal(t, 75.0, failed[0].Required)
	assert.Equal(t, 60.0, failed[0].Actual)
}

func TestEvaluate_HeldAtCapOnTimeInBelt(t *testing.T) {
	eff := brancaPolicy(t)
	c := capCycle(t, eff, timeutil.Date(2024, 1, 10))

	st, err := Evaluate(EvaluationInput{
		Cycle:  c,
		Policy: eff,
		Rate:   attendance.Rate{Taken: 90, Expected: 100},
		Now:    timeutil.Date(2024, 12, 9),
	})
	require.NoError(t, err)
	assert.True(t, st.HeldAtCap)
	assert.Equal(t, 10, st.MonthsInBelt)

	failed := st.FailedGates()
	require.Len(t, failed, 1)
	assert.Equal(t, GateTimeInBelt, failed[0].Name)
	assert.Equal(t, 12.0, failed[0].Required)
}

func TestEvaluate_NoTimeGateWithoutMinimum(t *testing.T) {
	catalog := belt.DefaultCatalog()
	preta, _ := catalog.Get("PRETA")
	eff := policy.DefaultUnitPolicy("unit-1", catalog).Resolve(preta)
	eff.MaxDegrees = 1

	c := newCycle(t, timeutil.Date(2024, 1, 10))
	c.BeltCode = "PRETA"
	c.DegreesGranted = 1

	st, err := Evaluate(EvaluationInput{Cycle: c, Policy: eff, Rate: attendance.Rate{Taken: 8, Expected: 10}, Now: timeutil.Date(2024, 1, 11)})
	require.NoError(t, err)
	assert.Equal(t, StatusBeltChangeEligible, st.Kind)
	require.Len(t, st.Gates, 1)
	assert.Equal(t, GateAttendancePercentage, st.Gates[0].Name)
}

func TestEvaluate_ClosedOrMissingCycle(t *testing.T) {
	eff := brancaPolicy(t)

	_, err := Evaluate(EvaluationInput{Policy: eff})
	assert.ErrorIs(t, err, shared.ErrNoActiveCycle)

	c := newCycle(t, timeutil.Date(2024, 1, 10))
	require.NoError(t, c.Close(timeutil.Date(2024, 2, 1)))
	_, err = Evaluate(EvaluationInput{Cycle: c, Policy: eff})
	assert.ErrorIs(t, err, shared.ErrCycleClosed)
}
