package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// LedgerRepository implements attendance.Ledger for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append inserts check-ins, skipping ids already present.
// Only rows actually inserted are returned.
func (r *LedgerRepository) Append(ctx context.Context, checkIns ...attendance.CheckIn) ([]attendance.CheckIn, error) {
	for _, c := range checkIns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	var appended []attendance.CheckIn
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		appended = appended[:0]
		for _, c := range checkIns {
			var sessionID *string
			if c.SessionID != "" {
				sessionID = &c.SessionID
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO check_ins (id, student_id, unit_id, session_id, checked_in_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO NOTHING
			`, c.ID, c.StudentID, c.UnitID, sessionID, c.CheckedInAt)
			if err != nil {
				return fmt.Errorf("failed to insert check-in %s: %w", c.ID, err)
			}
			if tag.RowsAffected() == 1 {
				appended = append(appended, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// RecordSession registers a held class.
func (r *LedgerRepository) RecordSession(ctx context.Context, s attendance.ClassSession) error {
	if s.ID == "" || s.UnitID == "" || s.HeldAt.IsZero() {
		return shared.NewDomainError("attendance", "RecordSession", shared.ErrInvalidInput, "session requires id, unit and time")
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO class_sessions (id, unit_id, held_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.UnitID, s.HeldAt)
	if err != nil {
		return fmt.Errorf("failed to insert class session: %w", err)
	}
	return nil
}

// Rate counts check-ins against held sessions in [from, to].
func (r *LedgerRepository) Rate(ctx context.Context, studentID, unitID string, from, to time.Time) (attendance.Rate, error) {
	if to.Before(from) {
		return attendance.Rate{}, shared.ErrInvalidWindow
	}

	var rate attendance.Rate
	err := r.conn.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM check_ins
			 WHERE student_id = $1 AND unit_id = $2 AND checked_in_at BETWEEN $3 AND $4),
			(SELECT count(*) FROM class_sessions
			 WHERE unit_id = $2 AND held_at BETWEEN $3 AND $4)
	`, studentID, unitID, from, to).Scan(&rate.Taken, &rate.Expected)
	if err != nil {
		return attendance.Rate{}, fmt.Errorf("failed to compute attendance rate: %w", err)
	}
	return rate, nil
}
