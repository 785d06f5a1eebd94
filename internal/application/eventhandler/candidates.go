// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// BELT CHANGE CANDIDATES
// Держит в памяти список учеников, прошедших все условия смены пояса,
// пока их не повысят. Его читает панель инструктора.
// ═══════════════════════════════════════════════════════════════════════════

// Candidate is a student waiting for an instructor's belt decision.
type Candidate struct {
	StudentID    string
	UnitID       string
	BeltCode     string
	NextBeltCode string
	Since        time.Time
}

// CandidateBoard tracks belt-change candidates per unit.
type CandidateBoard struct {
	mu        sync.RWMutex
	byUnit    map[string]map[string]Candidate
	byStudent map[string]string
	logger    *slog.Logger
}

// NewCandidateBoard creates an empty board.
func NewCandidateBoard(logger *slog.Logger) *CandidateBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandidateBoard{
		byUnit:    make(map[string]map[string]Candidate),
		byStudent: make(map[string]string),
		logger:    logger.With("handler", "candidate_board"),
	}
}

// Subscribe registers the board on bus.
func (b *CandidateBoard) Subscribe(bus shared.EventBus) error {
	if err := bus.Subscribe(shared.EventBeltChangeEligible, b.Handle); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventBeltPromoted, b.Handle)
}

// Handle implements shared.EventHandler.
func (b *CandidateBoard) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.BeltChangeEligibleEvent:
		b.add(Candidate{
			StudentID:    e.AggregateID(),
			UnitID:       e.UnitID,
			BeltCode:     e.BeltCode,
			NextBeltCode: e.NextBeltCode,
			Since:        e.OccurredAt(),
		})
	case *shared.BeltChangeEligibleEvent:
		return b.Handle(*e)
	case shared.BeltPromotedEvent:
		b.remove(e.AggregateID())
	case *shared.BeltPromotedEvent:
		return b.Handle(*e)
	}
	return nil
}

func (b *CandidateBoard) add(c Candidate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// a sweep repeats the event nightly; keep the first sighting
	if unit, ok := b.byStudent[c.StudentID]; ok {
		if prev, ok := b.byUnit[unit][c.StudentID]; ok && unit == c.UnitID && prev.BeltCode == c.BeltCode {
			return
		}
		delete(b.byUnit[unit], c.StudentID)
	}

	if b.byUnit[c.UnitID] == nil {
		b.byUnit[c.UnitID] = make(map[string]Candidate)
	}
	b.byUnit[c.UnitID][c.StudentID] = c
	b.byStudent[c.StudentID] = c.UnitID

	b.logger.Info("belt change candidate",
		"student_id", c.StudentID,
		"unit_id", c.UnitID,
		"belt_code", c.BeltCode,
		"next_belt_code", c.NextBeltCode,
	)
}

func (b *CandidateBoard) remove(studentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	unit, ok := b.byStudent[studentID]
	if !ok {
		return
	}
	delete(b.byUnit[unit], studentID)
	if len(b.byUnit[unit]) == 0 {
		delete(b.byUnit, unit)
	}
	delete(b.byStudent, studentID)
}

// Candidates returns the unit's candidates, longest waiting first.
func (b *CandidateBoard) Candidates(unitID string) []Candidate {
	b.mu.RLock()
	out := make([]Candidate, 0, len(b.byUnit[unitID]))
	for _, c := range b.byUnit[unitID] {
		out = append(out, c)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// Len returns the number of candidates across units.
func (b *CandidateBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byStudent)
}
