package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// PolicyRepository implements policy.Repository for PostgreSQL.
type PolicyRepository struct {
	conn *Connection
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(conn *Connection) *PolicyRepository {
	return &PolicyRepository{conn: conn}
}

// Get loads the unit row and its per-belt overrides.
func (r *PolicyRepository) Get(ctx context.Context, unitID string) (*policy.UnitPolicy, error) {
	p := &policy.UnitPolicy{UnitID: unitID, Belts: make(map[belt.Code]policy.BeltOverride)}

	err := r.conn.QueryRow(ctx, `
		SELECT min_attendance_percentage, attendance_window_days,
		       auto_approve_degrees, auto_approve_promotions, updated_at
		FROM unit_policies
		WHERE unit_id = $1
	`, unitID).Scan(&p.MinAttendancePercentage, &p.AttendanceWindowDays,
		&p.AutoApproveDegrees, &p.AutoApprovePromotions, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.WrapError("policy", "Get", shared.ErrPolicyNotFound, unitID, shared.ErrUnitPolicyNotFound)
		}
		return nil, fmt.Errorf("failed to load unit policy %s: %w", unitID, err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT belt_code, min_months_in_belt, attendances_per_degree, max_degrees
		FROM unit_belt_policies
		WHERE unit_id = $1
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to load belt overrides for %s: %w", unitID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			code string
			o    policy.BeltOverride
		)
		if err := rows.Scan(&code, &o.MinMonthsInBelt, &o.AttendancesPerDegree, &o.MaxDegrees); err != nil {
			return nil, fmt.Errorf("failed to scan belt override: %w", err)
		}
		p.Belts[belt.Code(code)] = o
	}
	return p, rows.Err()
}

// Save replaces the unit row and all of its overrides in one transaction.
func (r *PolicyRepository) Save(ctx context.Context, p *policy.UnitPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO unit_policies (unit_id, min_attendance_percentage, attendance_window_days,
			                           auto_approve_degrees, auto_approve_promotions, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (unit_id) DO UPDATE SET
				min_attendance_percentage = EXCLUDED.min_attendance_percentage,
				attendance_window_days = EXCLUDED.attendance_window_days,
				auto_approve_degrees = EXCLUDED.auto_approve_degrees,
				auto_approve_promotions = EXCLUDED.auto_approve_promotions,
				updated_at = NOW()
		`, p.UnitID, p.MinAttendancePercentage, p.AttendanceWindowDays, p.AutoApproveDegrees, p.AutoApprovePromotions)
		if err != nil {
			return fmt.Errorf("failed to save unit policy %s: %w", p.UnitID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM unit_belt_policies WHERE unit_id = $1`, p.UnitID); err != nil {
			return fmt.Errorf("failed to clear belt overrides: %w", err)
		}

		batch := &pgx.Batch{}
		for code, o := range p.Belts {
			batch.Queue(`
				INSERT INTO unit_belt_policies (unit_id, belt_code, min_months_in_belt, attendances_per_degree, max_degrees)
				VALUES ($1, $2, $3, $4, $5)
			`, p.UnitID, string(code), o.MinMonthsInBelt, o.AttendancesPerDegree, o.MaxDegrees)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if IsForeignKeyViolation(err) {
				return shared.WrapError("policy", "Save", shared.ErrNotFound, "override references an unknown belt", err)
			}
			return fmt.Errorf("failed to save belt overrides: %w", err)
		}
		return nil
	})
}

// ListUnits returns every configured unit id.
func (r *PolicyRepository) ListUnits(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT unit_id FROM unit_policies ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		units = append(units, id)
	}
	return units, rows.Err()
}
