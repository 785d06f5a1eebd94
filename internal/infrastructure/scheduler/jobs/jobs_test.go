package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/application/command"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/persistence/memory"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/scheduler"
)

type staticUnits []string

func (u staticUnits) ListUnits(context.Context) ([]string, error) { return u, nil }

type scriptedRecalculator struct {
	calls   []string
	results map[string]*command.RecalculateUnitResult
	errs    map[string]error
}

func (r *scriptedRecalculator) Handle(_ context.Context, cmd command.RecalculateUnitCommand) (*command.RecalculateUnitResult, error) {
	r.calls = append(r.calls, cmd.UnitID)
	if err := r.errs[cmd.UnitID]; err != nil {
		return nil, err
	}
	if res, ok := r.results[cmd.UnitID]; ok {
		return res, nil
	}
	return &command.RecalculateUnitResult{UnitID: cmd.UnitID, Failed: map[string]error{}}, nil
}

func TestProgressionSweep_ContinuesPastFailedUnit(t *testing.T) {
	broken := errors.New("policy table unreadable")
	rec := &scriptedRecalculator{
		results: map[string]*command.RecalculateUnitResult{
			"unit-a": {Processed: 3, Granted: make([]progression.DegreeGrant, 2), Eligible: make([]progression.Status, 1), Failed: map[string]error{"s": errors.New("x")}},
		},
		errs: map[string]error{"unit-b": broken},
	}
	job := NewProgressionSweepJob(staticUnits{"unit-c", "unit-b", "unit-a"}, rec, nil)

	assert.Nil(t, job.LastStats())
	err := job.Run(context.Background())
	require.ErrorIs(t, err, broken)

	assert.Equal(t, []string{"unit-a", "unit-b", "unit-c"}, rec.calls)
	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Units)
	assert.Equal(t, 3, stats.Students)
	assert.Equal(t, 2, stats.Granted)
	assert.Equal(t, 1, stats.Eligible)
	assert.Equal(t, 1, stats.FailedStudents)
	assert.Contains(t, stats.FailedUnits, "unit-b")
}

func TestProgressionSweep_StopsOnCancel(t *testing.T) {
	rec := &scriptedRecalculator{}
	job := NewProgressionSweepJob(staticUnits{"unit-a", "unit-b"}, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
}

func TestProgressionSweep_ThroughScheduler(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(belt.DefaultDefinitions()...)
	registry, err := belt.NewRegistry(ctx, store.Catalog())
	require.NoError(t, err)
	require.NoError(t, store.Policies().Save(ctx, policy.DefaultUnitPolicy("unit-1", registry.Current())))

	due := &progression.BeltCycle{ID: "c1", StudentID: "s1", UnitID: "unit-1", BeltCode: "BRANCA", AttendancesSinceLastDegree: 80}
	require.NoError(t, store.CreateCycle(ctx, due))

	recalc := command.NewRecalculateUnitHandler(command.Deps{
		Cycles:   store,
		Catalog:  registry,
		Policies: store.Policies(),
		Ledger:   store,
		Locker:   memory.NewLocker(),
	}, command.DefaultRecalculateUnitConfig())

	sched := scheduler.New(scheduler.DefaultConfig())
	job := NewProgressionSweepJob(store.Policies(), recalc, nil)
	require.NoError(t, sched.Register(job, scheduler.MustParseCron("0 3 * * *", time.UTC)))

	_, err = sched.RunNow(ctx, job.Name())
	require.NoError(t, err)

	c, err := store.GetCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.DegreesGranted)
	assert.Equal(t, 2, job.LastStats().Granted)
}

func TestCatalogRefresh(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(belt.DefaultDefinitions()...)
	registry, err := belt.NewRegistry(ctx, store.Catalog())
	require.NoError(t, err)

	require.NoError(t, store.Catalog().Deactivate(ctx, "ROXA"))
	def, _ := registry.Current().Get("ROXA")
	assert.True(t, def.Active)

	job := NewCatalogRefreshJob(registry, nil)
	require.NoError(t, job.Run(ctx))
	def, _ = registry.Current().Get("ROXA")
	assert.False(t, def.Active)
}
