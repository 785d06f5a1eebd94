// Package memory implements every engine repository in process memory.
// Used by tests and by deployments that embed the engine without a database.
// Writes are validated against a staged copy and applied only at the end,
// so an injected failure at any step leaves no partial state behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// Step names a sub-step of a write where a failure can be injected.
type Step string

const (
	StepSaveCycle       Step = "save_cycle"
	StepAppendGrant     Step = "append_grant"
	StepCloseCycle      Step = "close_cycle"
	StepOpenCycle       Step = "open_cycle"
	StepAppendPromotion Step = "append_promotion"
	StepDecideRequest   Step = "decide_request"
)

// Store holds all engine state.
type Store struct {
	mu sync.RWMutex

	belts    map[belt.Code]*belt.Definition
	policies map[string]*policy.UnitPolicy

	cycles     map[string]*progression.BeltCycle
	open       map[string]string // student -> open cycle id
	grants     []progression.DegreeGrant
	promotions []progression.BeltPromotion
	requests   map[string]*progression.PromotionRequest
	reqOrder   []string

	checkIns map[string]attendance.CheckIn
	sessions map[string]attendance.ClassSession

	faults map[Step]error
}

// NewStore creates an empty store seeded with the given belt definitions.
func NewStore(defs ...*belt.Definition) *Store {
	s := &Store{
		belts:    make(map[belt.Code]*belt.Definition),
		policies: make(map[string]*policy.UnitPolicy),
		cycles:   make(map[string]*progression.BeltCycle),
		open:     make(map[string]string),
		requests: make(map[string]*progression.PromotionRequest),
		checkIns: make(map[string]attendance.CheckIn),
		sessions: make(map[string]attendance.ClassSession),
		faults:   make(map[Step]error),
	}
	for _, d := range defs {
		cp := *d
		s.belts[d.Code] = &cp
	}
	return s
}

// FailNext makes the next write reaching step fail with err.
func (s *Store) FailNext(step Step, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[step] = err
}

// fault consumes an injected failure. Caller holds mu.
func (s *Store) fault(step Step) error {
	if err, ok := s.faults[step]; ok {
		delete(s.faults, step)
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BELT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog returns the belt repository view of the store.
func (s *Store) Catalog() belt.Repository { return catalogRepo{s} }

type catalogRepo struct{ s *Store }

func (r catalogRepo) List(ctx context.Context) ([]*belt.Definition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*belt.Definition, 0, len(r.s.belts))
	for _, d := range r.s.belts {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out, nil
}

func (r catalogRepo) Get(ctx context.Context, code belt.Code) (*belt.Definition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.belts[code]
	if !ok {
		return nil, shared.ErrBeltNotFound
	}
	cp := *d
	return &cp, nil
}

func (r catalogRepo) Save(ctx context.Context, d *belt.Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for code, other := range r.s.belts {
		if code != d.Code && other.Category == d.Category && other.DisplayOrder == d.DisplayOrder {
			return shared.ErrBeltOrderTaken
		}
	}
	cp := *d
	cp.UpdatedAt = time.Now().UTC()
	r.s.belts[d.Code] = &cp
	return nil
}

func (r catalogRepo) Deactivate(ctx context.Context, code belt.Code) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.belts[code]
	if !ok {
		return shared.ErrBeltNotFound
	}
	d.Deactivate(time.Now().UTC())
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT POLICIES
// ══════════════════════════════════════════════════════════════════════════════

// Policies returns the policy repository view of the store.
func (s *Store) Policies() policy.Repository { return policyRepo{s} }

type policyRepo struct{ s *Store }

func (r policyRepo) Get(ctx context.Context, unitID string) (*policy.UnitPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.policies[unitID]
	if !ok {
		return nil, shared.WrapError("policy", "Get", shared.ErrPolicyNotFound, unitID, shared.ErrUnitPolicyNotFound)
	}
	return p.Clone(), nil
}

func (r policyRepo) Save(ctx context.Context, p *policy.UnitPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for code := range p.Belts {
		if _, ok := r.s.belts[code]; !ok {
			return shared.WrapError("policy", "Save", shared.ErrNotFound, "override references an unknown belt", shared.ErrBeltNotFound)
		}
	}
	cp := p.Clone()
	cp.UpdatedAt = time.Now().UTC()
	r.s.policies[p.UnitID] = cp
	return nil
}

func (r policyRepo) ListUnits(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	units := make([]string, 0, len(r.s.policies))
	for id := range r.s.policies {
		units = append(units, id)
	}
	sort.Strings(units)
	return units, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BELT CYCLES
// ══════════════════════════════════════════════════════════════════════════════

// ActiveCycle implements progression.Repository.
func (s *Store) ActiveCycle(ctx context.Context, studentID string) (*progression.BeltCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.open[studentID]
	if !ok {
		return nil, shared.ErrNoActiveCycle
	}
	return s.cycles[id].Clone(), nil
}

// GetCycle implements progression.Repository.
func (s *Store) GetCycle(ctx context.Context, cycleID string) (*progression.BeltCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cycles[cycleID]
	if !ok {
		return nil, shared.ErrCycleNotFound
	}
	return c.Clone(), nil
}

// ListActiveByUnit implements progression.Repository.
func (s *Store) ListActiveByUnit(ctx context.Context, unitID string) ([]*progression.BeltCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*progression.BeltCycle
	for _, id := range s.open {
		if c := s.cycles[id]; c.UnitID == unitID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// CreateCycle implements progression.Repository.
func (s *Store) CreateCycle(ctx context.Context, c *progression.BeltCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNewCycle(c); err != nil {
		return err
	}
	if err := s.fault(StepOpenCycle); err != nil {
		return err
	}
	s.cycles[c.ID] = c.Clone()
	s.open[c.StudentID] = c.ID
	return nil
}

func (s *Store) checkNewCycle(c *progression.BeltCycle) error {
	if _, ok := s.belts[c.BeltCode]; !ok {
		return shared.WrapError("progression", "OpenCycle", shared.ErrNotFound, string(c.BeltCode), shared.ErrBeltNotFound)
	}
	if _, ok := s.cycles[c.ID]; ok {
		return shared.NewDomainError("progression", "OpenCycle", shared.ErrAlreadyExists, "cycle id already used")
	}
	if _, ok := s.open[c.StudentID]; ok && c.IsOpen() {
		return shared.ErrActiveCycleExists
	}
	return nil
}

// checkVersion compares against the stored cycle. Caller holds mu.
func (s *Store) checkVersion(c *progression.BeltCycle, expected int64) error {
	cur, ok := s.cycles[c.ID]
	if !ok {
		return shared.ErrCycleNotFound
	}
	if cur.Version != expected {
		return shared.ErrVersionConflict
	}
	return nil
}

// SaveCycle implements progression.Repository.
func (s *Store) SaveCycle(ctx context.Context, c *progression.BeltCycle, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(c, expectedVersion); err != nil {
		return err
	}
	if err := s.fault(StepSaveCycle); err != nil {
		return err
	}

	next := c.Clone()
	next.Version = expectedVersion + 1
	s.cycles[c.ID] = next
	c.Version = next.Version
	return nil
}

// CommitGrant implements progression.Repository.
func (s *Store) CommitGrant(ctx context.Context, c *progression.BeltCycle, expectedVersion int64, g progression.DegreeGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(c, expectedVersion); err != nil {
		return err
	}
	if err := s.fault(StepSaveCycle); err != nil {
		return err
	}
	for _, existing := range s.grants {
		if existing.CycleID == g.CycleID && existing.DegreeNumber == g.DegreeNumber {
			return shared.ErrVersionConflict
		}
	}
	if err := s.fault(StepAppendGrant); err != nil {
		return err
	}

	next := c.Clone()
	next.Version = expectedVersion + 1
	s.cycles[c.ID] = next
	s.grants = append(s.grants, g)
	c.Version = next.Version
	return nil
}

// CommitPromotion implements progression.Repository.
func (s *Store) CommitPromotion(ctx context.Context, p *progression.Promotion, decided *progression.PromotionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// stage
	if err := s.checkVersion(p.Closed, p.ExpectedVersion); err != nil {
		return err
	}
	if err := s.fault(StepCloseCycle); err != nil {
		return err
	}
	closed := p.Closed.Clone()
	closed.Version = p.ExpectedVersion + 1

	if _, ok := s.belts[p.Opened.BeltCode]; !ok {
		return shared.ErrBeltNotFound
	}
	if _, ok := s.cycles[p.Opened.ID]; ok {
		return shared.NewDomainError("progression", "OpenCycle", shared.ErrAlreadyExists, "cycle id already used")
	}
	if err := s.fault(StepOpenCycle); err != nil {
		return err
	}
	opened := p.Opened.Clone()

	if err := s.fault(StepAppendPromotion); err != nil {
		return err
	}

	var req *progression.PromotionRequest
	if decided != nil {
		stored, ok := s.requests[decided.ID]
		if !ok {
			return shared.ErrRequestNotFound
		}
		if !stored.IsPending() {
			return shared.ErrRequestNotPending
		}
		if err := s.fault(StepDecideRequest); err != nil {
			return err
		}
		req = decided.Clone()
	}

	// commit
	s.cycles[closed.ID] = closed
	s.cycles[opened.ID] = opened
	s.open[opened.StudentID] = opened.ID
	s.promotions = append(s.promotions, p.Record)
	if req != nil {
		s.requests[req.ID] = req
	}
	p.Closed.Version = closed.Version
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// CreateRequest implements progression.Repository.
func (s *Store) CreateRequest(ctx context.Context, r *progression.PromotionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return shared.NewDomainError("progression", "RequestPromotion", shared.ErrAlreadyExists, "request id already used")
	}
	for _, other := range s.requests {
		if other.IsPending() && other.StudentID == r.StudentID && other.ToBeltCode == r.ToBeltCode {
			return shared.ErrDuplicateRequest
		}
	}
	s.requests[r.ID] = r.Clone()
	s.reqOrder = append(s.reqOrder, r.ID)
	return nil
}

// GetRequest implements progression.Repository.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*progression.PromotionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[requestID]
	if !ok {
		return nil, shared.ErrRequestNotFound
	}
	return r.Clone(), nil
}

// DecideRequest implements progression.Repository.
func (s *Store) DecideRequest(ctx context.Context, r *progression.PromotionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[r.ID]
	if !ok {
		return shared.ErrRequestNotFound
	}
	if !stored.IsPending() {
		return shared.ErrRequestNotPending
	}
	if err := s.fault(StepDecideRequest); err != nil {
		return err
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

// History implements progression.Repository.
func (s *Store) History(ctx context.Context, studentID string) (*progression.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := &progression.History{}
	ids := make(map[string]bool)
	for _, c := range s.cycles {
		if c.StudentID == studentID {
			h.Cycles = append(h.Cycles, c.Clone())
			ids[c.ID] = true
		}
	}
	sort.Slice(h.Cycles, func(i, j int) bool { return h.Cycles[i].StartedAt.Before(h.Cycles[j].StartedAt) })

	for _, g := range s.grants {
		if ids[g.CycleID] {
			h.Grants = append(h.Grants, g)
		}
	}
	for _, p := range s.promotions {
		if p.StudentID == studentID {
			h.Promotions = append(h.Promotions, p)
		}
	}
	for _, id := range s.reqOrder {
		if r := s.requests[id]; r.StudentID == studentID {
			h.Requests = append(h.Requests, r.Clone())
		}
	}
	return h, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Append implements attendance.Ledger.
func (s *Store) Append(ctx context.Context, checkIns ...attendance.CheckIn) ([]attendance.CheckIn, error) {
	for _, c := range checkIns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var appended []attendance.CheckIn
	for _, c := range checkIns {
		if _, seen := s.checkIns[c.ID]; seen {
			continue
		}
		s.checkIns[c.ID] = c
		appended = append(appended, c)
	}
	return appended, nil
}

// RecordSession implements attendance.Ledger.
func (s *Store) RecordSession(ctx context.Context, session attendance.ClassSession) error {
	if session.ID == "" || session.UnitID == "" || session.HeldAt.IsZero() {
		return shared.NewDomainError("attendance", "RecordSession", shared.ErrInvalidInput, "session requires id, unit and time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		s.sessions[session.ID] = session
	}
	return nil
}

// Rate implements attendance.Ledger.
func (s *Store) Rate(ctx context.Context, studentID, unitID string, from, to time.Time) (attendance.Rate, error) {
	if to.Before(from) {
		return attendance.Rate{}, shared.ErrInvalidWindow
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	within := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }

	var r attendance.Rate
	for _, c := range s.checkIns {
		if c.StudentID == studentID && c.UnitID == unitID && within(c.CheckedInAt) {
			r.Taken++
		}
	}
	for _, sess := range s.sessions {
		if sess.UnitID == unitID && within(sess.HeldAt) {
			r.Expected++
		}
	}
	return r, nil
}
