// Package attendance описывает учёт посещений: отметки студентов (check-in),
// проведённые занятия и процент посещаемости за окно.
//
// Движок прогрессии читает отсюда только счётчики и процент. Проверка самих
// отметок (геолокация, QR, расписание) происходит снаружи.
package attendance

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// CheckIn - одна засчитанная отметка студента на занятии.
type CheckIn struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	UnitID      string    `json:"unit_id"`
	SessionID   string    `json:"session_id,omitempty"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// Validate проверяет обязательные поля.
func (c CheckIn) Validate() error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.StudentID) == "" || strings.TrimSpace(c.UnitID) == "" {
		return shared.ErrInvalidCheckIn
	}
	if c.CheckedInAt.IsZero() {
		return shared.ErrInvalidCheckIn
	}
	return nil
}

// ClassSession - проведённое занятие в юните. Знаменатель процента посещаемости.
type ClassSession struct {
	ID     string    `json:"id"`
	UnitID string    `json:"unit_id"`
	HeldAt time.Time `json:"held_at"`
}

// Rate - посещаемость за окно: сколько занятий студент посетил из проведённых.
type Rate struct {
	Taken    int `json:"taken"`
	Expected int `json:"expected"`
}

// Percentage возвращает процент 0..100. При Expected == 0 возвращает 0.
func (r Rate) Percentage() float64 {
	if r.Expected <= 0 {
		return 0
	}
	pct := float64(r.Taken) / float64(r.Expected) * 100
	return math.Min(pct, 100)
}

// Meets проверяет порог. Без проведённых занятий любой положительный порог не пройден.
func (r Rate) Meets(minPercentage float64) bool {
	if minPercentage <= 0 {
		return true
	}
	if r.Expected <= 0 {
		return false
	}
	return r.Percentage() >= minPercentage
}

// Window возвращает окно [now-days, now].
func Window(now time.Time, days int) (from, to time.Time) {
	return now.AddDate(0, 0, -days), now
}

// Ledger - журнал посещений.
type Ledger interface {
	// Append сохраняет отметки. Идемпотентен по ID: повторная отметка
	// не возвращается в appended и не должна начисляться повторно.
	Append(ctx context.Context, checkIns ...CheckIn) (appended []CheckIn, err error)

	// RecordSession регистрирует проведённое занятие. Идемпотентен по ID.
	RecordSession(ctx context.Context, session ClassSession) error

	// Rate считает посещаемость студента в юните за [from, to].
	Rate(ctx context.Context, studentID, unitID string, from, to time.Time) (Rate, error)
}
