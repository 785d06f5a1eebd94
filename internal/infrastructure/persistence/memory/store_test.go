package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

var errDisk = errors.New("disk full")

func seededStore(t *testing.T) (*Store, *progression.BeltCycle) {
	t.Helper()
	s := NewStore(belt.DefaultDefinitions()...)
	c, err := progression.OpenCycle(progression.OpenCycleParams{
		ID: "cycle-1", StudentID: "student-1", UnitID: "unit-1", BeltCode: "BRANCA",
		StartedAt: time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateCycle(context.Background(), c))
	return s, c
}

func TestStore_CreateCycleRejectsSecondOpen(t *testing.T) {
	s, _ := seededStore(t)
	other := &progression.BeltCycle{ID: "cycle-2", StudentID: "student-1", UnitID: "unit-1", BeltCode: "AZUL"}
	err := s.CreateCycle(context.Background(), other)
	assert.ErrorIs(t, err, shared.ErrActiveCycleExists)
}

func TestStore_SaveCycleVersionCheck(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)

	a, _ := s.ActiveCycle(ctx, "student-1")
	b, _ := s.ActiveCycle(ctx, "student-1")

	a.AttendancesSinceLastDegree = 5
	require.NoError(t, s.SaveCycle(ctx, a, a.Version))
	assert.Equal(t, int64(1), a.Version)

	b.AttendancesSinceLastDegree = 9
	err := s.SaveCycle(ctx, b, b.Version)
	assert.True(t, shared.IsConflict(err))

	stored, _ := s.ActiveCycle(ctx, "student-1")
	assert.Equal(t, 5, stored.AttendancesSinceLastDegree)
}

func TestStore_CommitPromotionIsAllOrNothing(t *testing.T) {
	catalog := belt.DefaultCatalog()

	for _, step := range []Step{StepCloseCycle, StepOpenCycle, StepAppendPromotion, StepDecideRequest} {
		t.Run(string(step), func(t *testing.T) {
			ctx := context.Background()
			s, cur := seededStore(t)

			req, err := progression.NewPromotionRequest(progression.NewPromotionRequestParams{ID: "req-1", Cycle: cur, ToBeltCode: "AZUL"})
			require.NoError(t, err)
			require.NoError(t, s.CreateRequest(ctx, req))
			require.NoError(t, req.Approve(nil, time.Now()))

			plan, err := progression.PlanPromotion(cur, catalog, "AZUL", progression.PromoteParams{NewCycleID: "cycle-2", PromotionID: "p-1"})
			require.NoError(t, err)

			s.FailNext(step, errDisk)
			err = s.CommitPromotion(ctx, plan, req)
			require.ErrorIs(t, err, errDisk)

			active, err := s.ActiveCycle(ctx, "student-1")
			require.NoError(t, err)
			assert.Equal(t, "cycle-1", active.ID)
			assert.True(t, active.IsOpen())
			assert.Equal(t, int64(0), active.Version)

			_, err = s.GetCycle(ctx, "cycle-2")
			assert.ErrorIs(t, err, shared.ErrCycleNotFound)

			h, _ := s.History(ctx, "student-1")
			assert.Empty(t, h.Promotions)
			require.Len(t, h.Requests, 1)
			assert.True(t, h.Requests[0].IsPending())

			// the same plan succeeds once the fault is gone
			require.NoError(t, s.CommitPromotion(ctx, plan, req))
			active, _ = s.ActiveCycle(ctx, "student-1")
			assert.Equal(t, belt.Code("AZUL"), active.BeltCode)
			old, _ := s.GetCycle(ctx, "cycle-1")
			assert.False(t, old.IsOpen())
		})
	}
}

func TestStore_CommitGrantFaultLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	s, c := seededStore(t)
	eff := policy.Effective{AttendancesPerDegree: 40, MaxDegrees: 4}

	_, err := c.RecordAttendance(40, eff)
	require.NoError(t, err)
	require.NoError(t, s.SaveCycle(ctx, c, c.Version))

	expected := c.Version
	g, err := c.GrantDegree(eff, progression.GrantParams{ID: "g1", Origin: progression.OriginAutomatic})
	require.NoError(t, err)

	s.FailNext(StepAppendGrant, errDisk)
	require.ErrorIs(t, s.CommitGrant(ctx, c, expected, g), errDisk)

	stored, _ := s.ActiveCycle(ctx, "student-1")
	assert.Equal(t, 0, stored.DegreesGranted)
	assert.Equal(t, 40, stored.AttendancesSinceLastDegree)
	h, _ := s.History(ctx, "student-1")
	assert.Empty(t, h.Grants)
}

func TestStore_DuplicatePendingRequest(t *testing.T) {
	ctx := context.Background()
	s, cur := seededStore(t)

	r1, _ := progression.NewPromotionRequest(progression.NewPromotionRequestParams{ID: "r1", Cycle: cur, ToBeltCode: "AZUL"})
	r2, _ := progression.NewPromotionRequest(progression.NewPromotionRequestParams{ID: "r2", Cycle: cur, ToBeltCode: "AZUL"})

	require.NoError(t, s.CreateRequest(ctx, r1))
	assert.ErrorIs(t, s.CreateRequest(ctx, r2), shared.ErrDuplicateRequest)

	require.NoError(t, r1.Cancel(nil, time.Now()))
	require.NoError(t, s.DecideRequest(ctx, r1))
	assert.NoError(t, s.CreateRequest(ctx, r2))
	assert.ErrorIs(t, s.DecideRequest(ctx, r1), shared.ErrRequestNotPending)
}

func TestStore_LedgerIdempotentAndRate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	at := time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, s.RecordSession(ctx, attendance.ClassSession{ID: id, UnitID: "unit-1", HeldAt: at.AddDate(0, 0, i)}))
	}
	require.NoError(t, s.RecordSession(ctx, attendance.ClassSession{ID: "s1", UnitID: "unit-1", HeldAt: at}))

	batch := []attendance.CheckIn{
		{ID: "c1", StudentID: "student-1", UnitID: "unit-1", CheckedInAt: at},
		{ID: "c2", StudentID: "student-1", UnitID: "unit-1", CheckedInAt: at.AddDate(0, 0, 1)},
		{ID: "c3", StudentID: "student-1", UnitID: "unit-1", CheckedInAt: at.AddDate(0, 0, 2)},
	}
	appended, err := s.Append(ctx, batch...)
	require.NoError(t, err)
	assert.Len(t, appended, 3)

	appended, err = s.Append(ctx, batch[1:]...)
	require.NoError(t, err)
	assert.Empty(t, appended)

	rate, err := s.Rate(ctx, "student-1", "unit-1", at.AddDate(0, 0, -1), at.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, attendance.Rate{Taken: 3, Expected: 4}, rate)

	_, err = s.Rate(ctx, "student-1", "unit-1", at, at.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)
}

func TestStore_PolicyNotFound(t *testing.T) {
	s := NewStore(belt.DefaultDefinitions()...)
	_, err := s.Policies().Get(context.Background(), "nowhere")
	assert.True(t, shared.IsPolicyNotFound(err))

	p := policy.DefaultUnitPolicy("unit-1", belt.DefaultCatalog())
	require.NoError(t, s.Policies().Save(context.Background(), p))
	got, err := s.Policies().Get(context.Background(), "unit-1")
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.MinAttendancePercentage)
}

func TestLocker_SerializesPerStudent(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "student-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.held())
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "student-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "student-1")
	assert.True(t, shared.IsConflict(err))

	unlock()
	unlock()
	assert.Equal(t, 0, l.held())

	unlock2, err := l.Lock(context.Background(), "student-2")
	require.NoError(t, err)
	unlock2()
}
