package command

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/internal/infrastructure/persistence/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *memory.Store
	events *recorder
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore(belt.DefaultDefinitions()...)
	registry, err := belt.NewRegistry(ctx, store.Catalog())
	require.NoError(t, err)
	require.NoError(t, store.Policies().Save(ctx, policy.DefaultUnitPolicy("unit-1", registry.Current())))

	var seq atomic.Int64
	rec := &recorder{}
	return &fixture{
		store:  store,
		events: rec,
		deps: Deps{
			Cycles:    store,
			Catalog:   registry,
			Policies:  store.Policies(),
			Ledger:    store,
			Locker:    memory.NewLocker(),
			Publisher: rec,
			Now:       func() time.Time { return testNow },
			NewID:     func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
		},
	}
}

func (f *fixture) enroll(t *testing.T, studentID, code string, started time.Time) *progression.BeltCycle {
	t.Helper()
	res, err := NewEnrollStudentHandler(f.deps).Handle(context.Background(), EnrollStudentCommand{
		StudentID: studentID, UnitID: "unit-1", BeltCode: code, StartedAt: started,
	})
	require.NoError(t, err)
	return res.Cycle
}

func (f *fixture) attend(t *testing.T, studentID string, n int) progression.AccrualResult {
	t.Helper()
	res, err := NewRecordAttendanceHandler(f.deps).Handle(context.Background(), RecordAttendanceCommand{StudentID: studentID, Count: n})
	require.NoError(t, err)
	return res.Accrual
}

func (f *fixture) grant(t *testing.T, cycleID string) progression.DegreeGrant {
	t.Helper()
	res, err := NewGrantDegreeHandler(f.deps).Handle(context.Background(), GrantDegreeCommand{CycleID: cycleID, Origin: "AUTOMATIC"})
	require.NoError(t, err)
	return res.Grant
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT & ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

func TestEnrollStudent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := NewEnrollStudentHandler(f.deps)

	c := f.enroll(t, "student-1", "branca", time.Time{})
	assert.Equal(t, belt.Code("BRANCA"), c.BeltCode)
	assert.Equal(t, testNow, c.StartedAt)
	assert.Equal(t, 1, f.events.count(shared.EventCycleOpened))

	_, err := h.Handle(ctx, EnrollStudentCommand{StudentID: "student-1", UnitID: "unit-1", BeltCode: "BRANCA"})
	assert.ErrorIs(t, err, shared.ErrActiveCycleExists)

	_, err = h.Handle(ctx, EnrollStudentCommand{StudentID: "student-2", UnitID: "nowhere", BeltCode: "BRANCA"})
	assert.True(t, shared.IsPolicyNotFound(err))

	_, err = h.Handle(ctx, EnrollStudentCommand{StudentID: "student-2", UnitID: "unit-1", BeltCode: "CORAL"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, EnrollStudentCommand{UnitID: "unit-1", BeltCode: "BRANCA"})
	assert.True(t, shared.IsValidation(err))
}

func TestRecordAttendance_CountsButNeverGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.enroll(t, "student-1", "BRANCA", testNow.AddDate(-1, 0, 0))

	_, err := NewRecordAttendanceHandler(f.deps).Handle(ctx, RecordAttendanceCommand{StudentID: "student-1", Count: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidAttendance)

	acc := f.attend(t, "student-1", 39)
	assert.Equal(t, 0, acc.DegreesDue)

	acc = f.attend(t, "student-1", 1)
	assert.Equal(t, 1, acc.DegreesDue)
	assert.Equal(t, 40, acc.AttendancesSinceLastDegree)

	stored, err := f.store.GetCycle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.DegreesGranted)
	assert.Equal(t, 40, stored.AttendancesTotal)

	h, _ := f.store.History(ctx, "student-1")
	assert.Empty(t, h.Grants)
	assert.Equal(t, 2, f.events.count(shared.EventAttendanceRecorded))

	_, err = NewRecordAttendanceHandler(f.deps).Handle(ctx, RecordAttendanceCommand{StudentID: "ghost", Count: 1})
	assert.ErrorIs(t, err, shared.ErrNoActiveCycle)
}

func TestRecordCheckIns_ReplayDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "student-1", "BRANCA", time.Time{})
	f.enroll(t, "student-2", "AZUL", time.Time{})

	batch := []attendance.CheckIn{
		{ID: "c1", StudentID: "student-1", UnitID: "unit-1", CheckedInAt: testNow},
		{ID: "c2", StudentID: "student-1", UnitID: "unit-1", CheckedInAt: testNow},
		{ID: "c3", StudentID: "student-2", UnitID: "unit-1", CheckedInAt: testNow},
		{ID: "c4", StudentID: "ghost", UnitID: "unit-1", CheckedInAt: testNow},
	}
	h := NewRecordCheckInsHandler(f.deps)

	res, err := h.Handle(ctx, RecordCheckInsCommand{CheckIns: batch})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Appended)
	assert.Equal(t, 2, res.Accrued["student-1"].AttendancesSinceLastDegree)
	assert.Equal(t, 1, res.Accrued["student-2"].AttendancesSinceLastDegree)
	assert.ErrorIs(t, res.Failed["ghost"], shared.ErrNoActiveCycle)

	res, err = h.Handle(ctx, RecordCheckInsCommand{CheckIns: batch})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Appended)
	assert.Equal(t, 4, res.Duplicates)

	c, _ := f.store.ActiveCycle(ctx, "student-1")
	assert.Equal(t, 2, c.AttendancesSinceLastDegree)

	_, err = h.Handle(ctx, RecordCheckInsCommand{})
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEGREES
// ══════════════════════════════════════════════════════════════════════════════

func TestGrantDegree_ConsumesAccrual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.enroll(t, "student-1", "BRANCA", time.Time{})
	f.attend(t, "student-1", 45)

	g := f.grant(t, c.ID)
	assert.Equal(t, 1, g.DegreeNumber)
	assert.Equal(t, progression.OriginAutomatic, g.Origin)
	assert.Nil(t, g.GrantedBy)

	stored, _ := f.store.GetCycle(ctx, c.ID)
	assert.Equal(t, 1, stored.DegreesGranted)
	assert.Equal(t, 5, stored.AttendancesSinceLastDegree)

	_, err := NewGrantDegreeHandler(f.deps).Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "AUTOMATIC"})
	assert.ErrorIs(t, err, shared.ErrDegreeNotDue)
	assert.True(t, shared.IsRuleViolation(err))
	assert.Equal(t, 1, f.events.count(shared.EventDegreeGranted))
}

func TestGrantDegree_ManualOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.enroll(t, "student-1", "BRANCA", time.Time{})
	h := NewGrantDegreeHandler(f.deps)

	_, err := h.Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "MANUAL", Override: true})
	assert.True(t, shared.IsValidation(err), "override needs an instructor")

	_, err = h.Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "AUTOMATIC", GrantedBy: "prof", Override: true})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "SOMETIMES"})
	assert.True(t, shared.IsValidation(err))

	res, err := h.Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "MANUAL", GrantedBy: "prof", Note: "competition", Override: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Grant.DegreeNumber)
	assert.Equal(t, "prof", progression.Deref(res.Grant.GrantedBy))
	assert.Equal(t, 0, res.Cycle.AttendancesSinceLastDegree)

	_, err = h.Handle(ctx, GrantDegreeCommand{CycleID: "missing", Origin: "MANUAL"})
	assert.ErrorIs(t, err, shared.ErrCycleNotFound)
}

func TestGrantDegree_ConcurrentGrantsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.enroll(t, "student-1", "BRANCA", time.Time{})
	f.attend(t, "student-1", 200)
	for i := 0; i < 3; i++ {
		f.grant(t, c.ID)
	}

	h := NewGrantDegreeHandler(f.deps)
	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		capped  atomic.Int32
		unknown atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(ctx, GrantDegreeCommand{CycleID: c.ID, Origin: "AUTOMATIC"})
			switch {
			case err == nil:
				ok.Add(1)
			case shared.IsRuleViolation(err):
				capped.Add(1)
			default:
				unknown.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), capped.Load())
	assert.Equal(t, int32(0), unknown.Load())

	stored, _ := f.store.GetCycle(ctx, c.ID)
	assert.Equal(t, 4, stored.DegreesGranted)

	h2, _ := f.store.History(ctx, "student-1")
	require.Len(t, h2.Grants, 4)
	for i, g := range h2.Grants {
		assert.Equal(t, i+1, g.DegreeNumber)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestPromoteBelt_StartsFreshCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.enroll(t, "student-1", "BRANCA", testNow.AddDate(-2, 0, 0))
	f.attend(t, "student-1", 175)
	for i := 0; i < 4; i++ {
		f.grant(t, old.ID)
	}

	res, err := NewPromoteBeltHandler(f.deps).Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "AZUL", PromotedBy: "prof"})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Promotion.Discarded)

	cur, err := f.store.ActiveCycle(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, belt.Code("AZUL"), cur.BeltCode)
	assert.Equal(t, 0, cur.DegreesGranted)
	assert.Equal(t, 0, cur.AttendancesSinceLastDegree)
	assert.Equal(t, testNow, cur.StartedAt)

	closed, _ := f.store.GetCycle(ctx, old.ID)
	assert.False(t, closed.IsOpen())

	h, _ := f.store.History(ctx, "student-1")
	require.Len(t, h.Promotions, 1)
	assert.Equal(t, belt.Code("BRANCA"), h.Promotions[0].FromBeltCode)
	assert.Equal(t, 1, f.events.count(shared.EventBeltPromoted))
}

func TestPromoteBelt_Sequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "student-1", "BRANCA", time.Time{})
	h := NewPromoteBeltHandler(f.deps)

	_, err := h.Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "MARROM"})
	assert.ErrorIs(t, err, shared.ErrInvalidBeltSequence)

	_, err = h.Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "MARROM", Override: true})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "MARROM", PromotedBy: "mestre", Override: true})
	require.NoError(t, err)

	_, err = h.Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "AZUL", PromotedBy: "mestre", Override: true})
	assert.ErrorIs(t, err, shared.ErrDowngradeNotAllowed)

	cur, _ := f.store.ActiveCycle(ctx, "student-1")
	assert.Equal(t, belt.Code("MARROM"), cur.BeltCode)
}

func TestPromoteBelt_FailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.enroll(t, "student-1", "BRANCA", time.Time{})

	f.store.FailNext(memory.StepAppendPromotion, assert.AnError)
	_, err := NewPromoteBeltHandler(f.deps).Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "AZUL"})
	require.ErrorIs(t, err, assert.AnError)

	cur, err := f.store.ActiveCycle(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, old.ID, cur.ID)
	h, _ := f.store.History(ctx, "student-1")
	assert.Len(t, h.Cycles, 1)
	assert.Empty(t, h.Promotions)
	assert.Zero(t, f.events.count(shared.EventBeltPromoted))
}

func TestPromotionRequest_ApproveFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "student-1", "BRANCA", time.Time{})

	req := NewRequestPromotionHandler(f.deps)
	res, err := req.Handle(ctx, RequestPromotionCommand{StudentID: "student-1", ToBeltCode: "AZUL", RequestedBy: "prof"})
	require.NoError(t, err)
	assert.True(t, res.Request.IsPending())
	assert.Nil(t, res.Promotion)

	_, err = req.Handle(ctx, RequestPromotionCommand{StudentID: "student-1", ToBeltCode: "AZUL"})
	assert.ErrorIs(t, err, shared.ErrDuplicateRequest)

	_, err = req.Handle(ctx, RequestPromotionCommand{StudentID: "student-1", ToBeltCode: "ROXA"})
	assert.ErrorIs(t, err, shared.ErrInvalidBeltSequence)

	approve := NewApprovePromotionHandler(f.deps)
	ar, err := approve.Handle(ctx, ApprovePromotionCommand{RequestID: res.Request.ID, ApprovedBy: "mestre"})
	require.NoError(t, err)
	assert.Equal(t, progression.RequestApproved, ar.Request.Status)
	assert.Equal(t, belt.Code("AZUL"), ar.Promotion.Opened.BeltCode)

	stored, _ := f.store.GetRequest(ctx, res.Request.ID)
	assert.Equal(t, progression.RequestApproved, stored.Status)
	assert.Equal(t, "mestre", progression.Deref(stored.DecidedBy))

	_, err = approve.Handle(ctx, ApprovePromotionCommand{RequestID: res.Request.ID, ApprovedBy: "mestre"})
	assert.ErrorIs(t, err, shared.ErrRequestNotPending)

	assert.Equal(t, 1, f.events.count(shared.EventPromotionRequested))
	assert.Equal(t, 1, f.events.count(shared.EventPromotionApproved))
}

func TestPromotionRequest_OutdatedAndCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "student-1", "BRANCA", time.Time{})
	f.enroll(t, "student-2", "BRANCA", time.Time{})

	req := NewRequestPromotionHandler(f.deps)
	r1, err := req.Handle(ctx, RequestPromotionCommand{StudentID: "student-1", ToBeltCode: "AZUL"})
	require.NoError(t, err)
	r2, err := req.Handle(ctx, RequestPromotionCommand{StudentID: "student-2", ToBeltCode: "AZUL"})
	require.NoError(t, err)

	_, err = NewPromoteBeltHandler(f.deps).Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "AZUL"})
	require.NoError(t, err)

	approve := NewApprovePromotionHandler(f.deps)
	_, err = approve.Handle(ctx, ApprovePromotionCommand{RequestID: r1.Request.ID, ApprovedBy: "mestre"})
	assert.ErrorIs(t, err, shared.ErrRequestOutdated)

	cancel := NewCancelPromotionHandler(f.deps)
	cancelled, err := cancel.Handle(ctx, CancelPromotionCommand{RequestID: r2.Request.ID, CancelledBy: "prof", Reason: "injury"})
	require.NoError(t, err)
	assert.Equal(t, progression.RequestCancelled, cancelled.Status)
	assert.Equal(t, "injury", cancelled.Note)

	_, err = cancel.Handle(ctx, CancelPromotionCommand{RequestID: r2.Request.ID})
	assert.ErrorIs(t, err, shared.ErrRequestNotPending)

	_, err = cancel.Handle(ctx, CancelPromotionCommand{RequestID: "missing"})
	assert.ErrorIs(t, err, shared.ErrRequestNotFound)

	cur, _ := f.store.ActiveCycle(ctx, "student-2")
	assert.Equal(t, belt.Code("BRANCA"), cur.BeltCode)
}

func TestApproveMany_CollectsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []string
	for _, s := range []string{"a", "b"} {
		f.enroll(t, s, "BRANCA", time.Time{})
		r, err := NewRequestPromotionHandler(f.deps).Handle(ctx, RequestPromotionCommand{StudentID: s, ToBeltCode: "AZUL"})
		require.NoError(t, err)
		ids = append(ids, r.Request.ID)
	}
	ids = append(ids, "missing")

	res := NewApprovePromotionHandler(f.deps).HandleMany(ctx, ids, "mestre")
	assert.Len(t, res.Approved, 2)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed["missing"], shared.ErrRequestNotFound)
}

func TestRequestPromotion_AutoApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.store.Policies().Get(ctx, "unit-1")
	require.NoError(t, err)
	p.AutoApprovePromotions = true
	require.NoError(t, f.store.Policies().Save(ctx, p))

	f.enroll(t, "student-1", "BRANCA", time.Time{})
	res, err := NewRequestPromotionHandler(f.deps).Handle(ctx, RequestPromotionCommand{StudentID: "student-1", ToBeltCode: "AZUL", RequestedBy: "prof"})
	require.NoError(t, err)
	require.NotNil(t, res.Promotion)
	assert.Equal(t, progression.RequestApproved, res.Request.Status)

	cur, _ := f.store.ActiveCycle(ctx, "student-1")
	assert.Equal(t, belt.Code("AZUL"), cur.BeltCode)
	h, _ := f.store.History(ctx, "student-1")
	require.Len(t, h.Requests, 1)
	assert.Equal(t, progression.RequestApproved, h.Requests[0].Status)
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT RECALCULATION
// ══════════════════════════════════════════════════════════════════════════════

func seedCycle(t *testing.T, f *fixture, c progression.BeltCycle) {
	t.Helper()
	c.UnitID = "unit-1"
	require.NoError(t, f.store.CreateCycle(context.Background(), &c))
}

func seedAttendance(t *testing.T, f *fixture, studentID string, sessions, taken int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < sessions; i++ {
		at := testNow.AddDate(0, 0, -i-1)
		require.NoError(t, f.store.RecordSession(ctx, attendance.ClassSession{ID: fmt.Sprintf("s-%d", i), UnitID: "unit-1", HeldAt: at}))
		if i < taken {
			_, err := f.store.Append(ctx, attendance.CheckIn{
				ID: fmt.Sprintf("%s-%d", studentID, i), StudentID: studentID, UnitID: "unit-1", CheckedInAt: at,
			})
			require.NoError(t, err)
		}
	}
}

func TestRecalculateUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seedCycle(t, f, progression.BeltCycle{ID: "c-due", StudentID: "due", BeltCode: "BRANCA", StartedAt: testNow.AddDate(0, -3, 0), AttendancesSinceLastDegree: 85})
	seedCycle(t, f, progression.BeltCycle{ID: "c-ready", StudentID: "ready", BeltCode: "AZUL", StartedAt: testNow.AddDate(-2, -1, 0), DegreesGranted: 4, AttendancesSinceLastDegree: 12})
	seedCycle(t, f, progression.BeltCycle{ID: "c-idle", StudentID: "idle", BeltCode: "BRANCA", StartedAt: testNow.AddDate(0, -1, 0), AttendancesSinceLastDegree: 3})
	seedCycle(t, f, progression.BeltCycle{ID: "c-slacker", StudentID: "slacker", BeltCode: "AZUL", StartedAt: testNow.AddDate(-3, 0, 0), DegreesGranted: 4})
	seedAttendance(t, f, "ready", 10, 9)

	other := progression.BeltCycle{ID: "c-other", StudentID: "elsewhere", UnitID: "unit-2", BeltCode: "BRANCA", AttendancesSinceLastDegree: 400}
	require.NoError(t, f.store.CreateCycle(ctx, &other))

	h := NewRecalculateUnitHandler(f.deps, DefaultRecalculateUnitConfig())
	res, err := h.Handle(ctx, RecalculateUnitCommand{UnitID: "unit-1"})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Granted, 2)
	assert.Equal(t, 1, res.Granted[0].DegreeNumber)
	assert.Equal(t, 2, res.Granted[1].DegreeNumber)

	due, _ := f.store.GetCycle(ctx, "c-due")
	assert.Equal(t, 2, due.DegreesGranted)
	assert.Equal(t, 5, due.AttendancesSinceLastDegree)

	require.Len(t, res.Eligible, 1)
	assert.Equal(t, "ready", res.Eligible[0].StudentID)
	assert.Equal(t, 1, f.events.count(shared.EventBeltChangeEligible))

	untouched, _ := f.store.GetCycle(ctx, "c-other")
	assert.Equal(t, 0, untouched.DegreesGranted)

	// a second sweep is a no-op
	res, err = h.Handle(ctx, RecalculateUnitCommand{UnitID: "unit-1"})
	require.NoError(t, err)
	assert.Empty(t, res.Granted)

	_, err = h.Handle(ctx, RecalculateUnitCommand{UnitID: "unit-9"})
	assert.True(t, shared.IsPolicyNotFound(err))
}

func TestRecalculateUnit_ManualUnitNeedsForce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, _ := f.store.Policies().Get(ctx, "unit-1")
	p.AutoApproveDegrees = false
	require.NoError(t, f.store.Policies().Save(ctx, p))
	seedCycle(t, f, progression.BeltCycle{ID: "c-due", StudentID: "due", BeltCode: "BRANCA", AttendancesSinceLastDegree: 40})

	h := NewRecalculateUnitHandler(f.deps, RecalculateUnitConfig{Concurrency: 2})
	res, err := h.Handle(ctx, RecalculateUnitCommand{UnitID: "unit-1"})
	require.NoError(t, err)
	assert.Empty(t, res.Granted)

	res, err = h.Handle(ctx, RecalculateUnitCommand{UnitID: "unit-1", Force: true, Actor: "manager"})
	require.NoError(t, err)
	require.Len(t, res.Granted, 1)
	assert.Equal(t, "manager", progression.Deref(res.Granted[0].GrantedBy))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

func TestUpdateUnitPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := NewUpdateUnitPolicyHandler(f.deps)

	_, err := h.Handle(ctx, UpdateUnitPolicyCommand{})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, UpdateUnitPolicyCommand{Policy: &policy.UnitPolicy{UnitID: "unit-2", MinAttendancePercentage: 120, AttendanceWindowDays: 30}})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = h.Handle(ctx, UpdateUnitPolicyCommand{Policy: &policy.UnitPolicy{
		UnitID: "unit-2", MinAttendancePercentage: 60, AttendanceWindowDays: 30,
		Belts: map[belt.Code]policy.BeltOverride{"CORAL": {MaxDegrees: policy.Int(6)}},
	}})
	assert.True(t, shared.IsValidation(err))

	p, err := h.Handle(ctx, UpdateUnitPolicyCommand{
		Policy: &policy.UnitPolicy{
			UnitID: "unit-2", MinAttendancePercentage: 60, AttendanceWindowDays: 30,
			Belts: map[belt.Code]policy.BeltOverride{"AZUL": {AttendancesPerDegree: policy.Int(30)}},
		},
		UseDefaults: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, *p.Belts["AZUL"].AttendancesPerDegree)
	assert.Nil(t, p.Belts["AZUL"].MinMonthsInBelt)
	assert.Equal(t, 12, *p.Belts["BRANCA"].MinMonthsInBelt)

	stored, err := f.store.Policies().Get(ctx, "unit-2")
	require.NoError(t, err)
	assert.Equal(t, 60.0, stored.MinAttendancePercentage)
	assert.Equal(t, 1, f.events.count(shared.EventUnitPolicyUpdated))
}

func TestCatalogAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := NewCatalogAdminHandler(f.deps)

	_, err := h.Define(ctx, DefineBeltCommand{Code: "CORAL", Name: "Coral", ColorHex: "#ff0000", DisplayOrder: 6, MaxDegrees: 2, DefaultAttendancesPerDegree: 100, Category: "ADULT"})
	require.NoError(t, err)
	next, err := f.deps.Catalog.Current().Next("PRETA")
	require.NoError(t, err)
	assert.Equal(t, belt.Code("CORAL"), next.Code)

	_, err = h.Define(ctx, DefineBeltCommand{Code: "VERMELHA", DisplayOrder: 6, MaxDegrees: 1, DefaultAttendancesPerDegree: 1, Category: "ADULT"})
	assert.ErrorIs(t, err, shared.ErrBeltOrderTaken)

	_, err = h.Define(ctx, DefineBeltCommand{Code: "X", DisplayOrder: 0, Category: "ADULT"})
	assert.True(t, shared.IsValidation(err))

	f.enroll(t, "student-1", "AZUL", time.Time{})
	require.NoError(t, h.Deactivate(ctx, "roxa"))

	_, err = NewPromoteBeltHandler(f.deps).Handle(ctx, PromoteBeltCommand{StudentID: "student-1", ToBeltCode: "ROXA"})
	assert.ErrorIs(t, err, shared.ErrBeltInactive)

	_, err = NewCatalogAdminHandler(Deps{Catalog: belt.StaticRegistry(belt.DefaultCatalog())}).Define(ctx, DefineBeltCommand{
		Code: "CORAL", DisplayOrder: 6, MaxDegrees: 1, DefaultAttendancesPerDegree: 1, Category: "ADULT",
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}
