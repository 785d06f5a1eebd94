package progression

import (
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
	"github.com/teamcruz/graduation-engine/pkg/timeutil"
)

// StatusKind - итог оценки студента.
type StatusKind string

const (
	StatusNoChange           StatusKind = "NO_CHANGE"
	StatusDegreeDue          StatusKind = "DEGREE_DUE"
	StatusBeltChangeEligible StatusKind = "BELT_CHANGE_ELIGIBLE"
)

// Phase - производная стадия цикла. Не хранится.
type Phase string

const (
	PhaseInCycle    Phase = "IN_CYCLE"
	PhaseCapReached Phase = "CAP_REACHED"
	PhaseEligible   Phase = "ELIGIBLE"
)

// GateName - условие смены пояса после достижения лимита степеней.
type GateName string

const (
	GateTimeInBelt           GateName = "TIME_IN_BELT"
	GateAttendancePercentage GateName = "ATTENDANCE_PERCENTAGE"
)

// Gate - результат проверки одного условия.
type Gate struct {
	Name     GateName `json:"name"`
	Passed   bool     `json:"passed"`
	Required float64  `json:"required"`
	Actual   float64  `json:"actual"`
}

// Status - вычисленный статус прогрессии студента.
type Status struct {
	StudentID string     `json:"student_id"`
	CycleID   string     `json:"cycle_id"`
	UnitID    string     `json:"unit_id"`
	BeltCode  belt.Code  `json:"belt_code"`
	Kind      StatusKind `json:"kind"`

	// DegreesDue - число степеней к выдаче. 0 при BELT_CHANGE_ELIGIBLE
	// и при удержании на лимите.
	DegreesDue int `json:"degrees_due"`

	// HeldAtCap - лимит степеней достигнут, но не пройдено хотя бы одно условие.
	HeldAtCap bool   `json:"held_at_cap"`
	Gates     []Gate `json:"gates,omitempty"`

	DegreesGranted             int              `json:"degrees_granted"`
	AttendancesSinceLastDegree int              `json:"attendances_since_last_degree"`
	AttendancesToNextDegree    int              `json:"attendances_to_next_degree"`
	MonthsInBelt               int              `json:"months_in_belt"`
	Rate                       attendance.Rate  `json:"rate"`
	Policy                     policy.Effective `json:"policy"`
	EvaluatedAt                time.Time        `json:"evaluated_at"`
}

// Phase возвращает производную стадию цикла.
func (s Status) Phase() Phase {
	switch {
	case s.Kind == StatusBeltChangeEligible:
		return PhaseEligible
	case s.DegreesGranted >= s.Policy.MaxDegrees:
		return PhaseCapReached
	default:
		return PhaseInCycle
	}
}

// FailedGates возвращает непройденные условия.
func (s Status) FailedGates() []Gate {
	var failed []Gate
	for _, g := range s.Gates {
		if !g.Passed {
			failed = append(failed, g)
		}
	}
	return failed
}

// Progress - доля пройденного пути в поясе, 0..1. Используется для сортировки.
func (s Status) Progress() float64 {
	per := s.Policy.AttendancesPerDegree
	maxDeg := s.Policy.MaxDegrees
	if per < 1 || maxDeg < 1 {
		return 0
	}
	if s.DegreesGranted >= maxDeg {
		return 1
	}
	since := s.AttendancesSinceLastDegree
	if since > per {
		since = per
	}
	return float64(s.DegreesGranted*per+since) / float64(maxDeg*per)
}

// EvaluationInput - всё, что нужно для оценки одного студента.
type EvaluationInput struct {
	Cycle  *BeltCycle
	Policy policy.Effective
	Rate   attendance.Rate
	Now    time.Time
}

// Evaluate вычисляет статус прогрессии. Чистая функция: не читает хранилище
// и не изменяет цикл.
//
// До лимита степеней статус определяется только накоплением. На лимите
// проверяются условия: время в поясе (если задано) и процент посещаемости.
// Непройденное условие - не ошибка, а DEGREE_DUE(0) с HeldAtCap и списком Gates.
func Evaluate(in EvaluationInput) (Status, error) {
	c := in.Cycle
	if c == nil {
		return Status{}, shared.ErrNoActiveCycle
	}
	if !c.IsOpen() {
		return Status{}, shared.ErrCycleClosed
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	acc, err := Accumulate(AccrualInput{
		DegreesGranted:             c.DegreesGranted,
		AttendancesSinceLastDegree: c.AttendancesSinceLastDegree,
		AttendancesPerDegree:       in.Policy.AttendancesPerDegree,
		MaxDegrees:                 in.Policy.MaxDegrees,
	})
	if err != nil {
		return Status{}, err
	}

	st := Status{
		StudentID:                  c.StudentID,
		CycleID:                    c.ID,
		UnitID:                     c.UnitID,
		BeltCode:                   c.BeltCode,
		DegreesGranted:             c.DegreesGranted,
		AttendancesSinceLastDegree: c.AttendancesSinceLastDegree,
		MonthsInBelt:               timeutil.MonthsBetween(c.StartedAt, now),
		Rate:                       in.Rate,
		Policy:                     in.Policy,
		EvaluatedAt:                now,
	}

	if c.DegreesGranted < in.Policy.MaxDegrees {
		st.AttendancesToNextDegree = in.Policy.AttendancesPerDegree - c.AttendancesSinceLastDegree
		if st.AttendancesToNextDegree < 0 {
			st.AttendancesToNextDegree = 0
		}
		if acc.DegreesDue == 0 {
			st.Kind = StatusNoChange
			return st, nil
		}
		st.Kind = StatusDegreeDue
		st.DegreesDue = acc.DegreesDue
		return st, nil
	}

	// Лимит степеней достигнут: проверяем условия смены пояса.
	if in.Policy.MinMonthsInBelt != nil {
		st.Gates = append(st.Gates, Gate{
			Name:     GateTimeInBelt,
			Passed:   st.MonthsInBelt >= *in.Policy.MinMonthsInBelt,
			Required: float64(*in.Policy.MinMonthsInBelt),
			Actual:   float64(st.MonthsInBelt),
		})
	}
	st.Gates = append(st.Gates, Gate{
		Name:     GateAttendancePercentage,
		Passed:   in.Rate.Meets(in.Policy.MinAttendancePercentage),
		Required: in.Policy.MinAttendancePercentage,
		Actual:   in.Rate.Percentage(),
	})

	if len(st.FailedGates()) == 0 {
		st.Kind = StatusBeltChangeEligible
		return st, nil
	}

	st.Kind = StatusDegreeDue
	st.HeldAtCap = true
	return st, nil
}
