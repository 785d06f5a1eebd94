package progression

import (
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// AccrualInput - состояние цикла и новые посещения для расчёта начисления.
type AccrualInput struct {
	DegreesGranted             int
	AttendancesSinceLastDegree int
	NewAttendances             int
	AttendancesPerDegree       int
	MaxDegrees                 int
}

// AccrualResult - результат расчёта.
type AccrualResult struct {
	// AttendancesSinceLastDegree - счётчик с учётом новых посещений.
	AttendancesSinceLastDegree int

	// DegreesDue - сколько целых степеней покрывает счётчик, не больше
	// оставшихся слотов до MaxDegrees.
	DegreesDue int

	// Remainder - остаток счётчика после выдачи DegreesDue степеней.
	Remainder int

	// BeltChangeEligible - после выдачи DegreesDue цикл упирается в MaxDegrees.
	BeltChangeEligible bool

	// Excess - посещения сверх лимита степеней. Остаются в счётчике,
	// при смене пояса не переносятся.
	Excess int
}

// Accumulate считает начисление степеней. Чистая функция, без побочных эффектов.
func Accumulate(in AccrualInput) (AccrualResult, error) {
	if in.NewAttendances < 0 || in.AttendancesSinceLastDegree < 0 || in.DegreesGranted < 0 {
		return AccrualResult{}, shared.NewDomainError("progression", "Accumulate", shared.ErrInvalidInput, "counters cannot be negative")
	}
	if in.AttendancesPerDegree < 1 || in.MaxDegrees < 1 {
		return AccrualResult{}, shared.NewDomainError("progression", "Accumulate", shared.ErrValueOutOfRange, "attendances per degree and max degrees must be positive")
	}

	total := in.AttendancesSinceLastDegree + in.NewAttendances

	slots := in.MaxDegrees - in.DegreesGranted
	if slots < 0 {
		slots = 0
	}

	due := total / in.AttendancesPerDegree
	if due > slots {
		due = slots
	}

	res := AccrualResult{
		AttendancesSinceLastDegree: total,
		DegreesDue:                 due,
		Remainder:                  total - due*in.AttendancesPerDegree,
		BeltChangeEligible:         in.DegreesGranted+due >= in.MaxDegrees,
	}
	if res.BeltChangeEligible {
		res.Excess = res.Remainder
	}
	return res, nil
}
