package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CYCLE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CycleRepository implements progression.Repository for PostgreSQL.
type CycleRepository struct {
	conn *Connection
}

// NewCycleRepository creates a new CycleRepository.
func NewCycleRepository(conn *Connection) *CycleRepository {
	return &CycleRepository{conn: conn}
}

const cycleColumns = `id, student_id, unit_id, belt_code, started_at, ended_at,
	degrees_granted, attendances_since_last_degree, attendances_total, version`

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// ActiveCycle returns the open cycle of a student.
func (r *CycleRepository) ActiveCycle(ctx context.Context, studentID string) (*progression.BeltCycle, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+cycleColumns+` FROM belt_cycles WHERE student_id = $1 AND ended_at IS NULL`, studentID)
	c, err := scanCycle(row)
	if IsNoRows(err) {
		return nil, shared.ErrNoActiveCycle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active cycle: %w", err)
	}
	return c, nil
}

// GetCycle returns a cycle by id.
func (r *CycleRepository) GetCycle(ctx context.Context, cycleID string) (*progression.BeltCycle, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+cycleColumns+` FROM belt_cycles WHERE id = $1`, cycleID)
	c, err := scanCycle(row)
	if IsNoRows(err) {
		return nil, shared.ErrCycleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle: %w", err)
	}
	return c, nil
}

// ListActiveByUnit returns the open cycles of a unit.
func (r *CycleRepository) ListActiveByUnit(ctx context.Context, unitID string) ([]*progression.BeltCycle, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+cycleColumns+`
		FROM belt_cycles
		WHERE unit_id = $1 AND ended_at IS NULL
		ORDER BY student_id
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*progression.BeltCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// CreateCycle inserts the first cycle of a student.
func (r *CycleRepository) CreateCycle(ctx context.Context, c *progression.BeltCycle) error {
	if err := insertCycle(ctx, r.conn, c); err != nil {
		return err
	}
	return nil
}

// SaveCycle writes counters with a version check.
func (r *CycleRepository) SaveCycle(ctx context.Context, c *progression.BeltCycle, expectedVersion int64) error {
	if err := updateCycle(ctx, r.conn, c, expectedVersion); err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

// CommitGrant updates the cycle and appends the grant row in one transaction.
func (r *CycleRepository) CommitGrant(ctx context.Context, c *progression.BeltCycle, expectedVersion int64, g progression.DegreeGrant) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := updateCycle(ctx, tx, c, expectedVersion); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO degree_grants (id, cycle_id, degree_number, granted_at, granted_by, origin, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, g.ID, g.CycleID, g.DegreeNumber, g.GrantedAt, g.GrantedBy, string(g.Origin), g.Note)
		if err != nil {
			if IsUniqueViolation(err) && constraintName(err) == "uq_degree_number" {
				return shared.ErrVersionConflict
			}
			return fmt.Errorf("failed to insert degree grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

// CommitPromotion closes the old cycle, opens the new one, appends the
// promotion row and records the request decision in one transaction.
func (r *CycleRepository) CommitPromotion(ctx context.Context, p *progression.Promotion, decided *progression.PromotionRequest) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := updateCycle(ctx, tx, p.Closed, p.ExpectedVersion); err != nil {
			return err
		}
		if err := insertCycle(ctx, tx, p.Opened); err != nil {
			return err
		}

		rec := p.Record
		_, err := tx.Exec(ctx, `
			INSERT INTO belt_promotions (id, student_id, from_belt_code, to_belt_code, promoted_at, promoted_by, note, override)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.ID, rec.StudentID, string(rec.FromBeltCode), string(rec.ToBeltCode), rec.PromotedAt, rec.PromotedBy, rec.Note, rec.Override)
		if err != nil {
			return fmt.Errorf("failed to insert belt promotion: %w", err)
		}

		if decided != nil {
			return decideRequest(ctx, tx, decided)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Closed.Version = p.ExpectedVersion + 1
	return nil
}

func insertCycle(ctx context.Context, q Querier, c *progression.BeltCycle) error {
	_, err := q.Exec(ctx, `
		INSERT INTO belt_cycles (`+cycleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.StudentID, c.UnitID, string(c.BeltCode), c.StartedAt, c.EndedAt,
		c.DegreesGranted, c.AttendancesSinceLastDegree, c.AttendancesTotal, c.Version)
	if err != nil {
		if IsUniqueViolation(err) && constraintName(err) == "uq_belt_cycles_open_student" {
			return shared.ErrActiveCycleExists
		}
		if IsForeignKeyViolation(err) {
			return shared.WrapError("progression", "OpenCycle", shared.ErrNotFound, string(c.BeltCode), shared.ErrBeltNotFound)
		}
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

func updateCycle(ctx context.Context, q Querier, c *progression.BeltCycle, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE belt_cycles SET
			ended_at = $1,
			degrees_granted = $2,
			attendances_since_last_degree = $3,
			attendances_total = $4,
			version = version + 1
		WHERE id = $5 AND version = $6
	`, c.EndedAt, c.DegreesGranted, c.AttendancesSinceLastDegree, c.AttendancesTotal, c.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM belt_cycles WHERE id = $1)`, c.ID).Scan(&exists); err == nil && !exists {
			return shared.ErrCycleNotFound
		}
		return shared.ErrVersionConflict
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Promotion requests
// ─────────────────────────────────────────────────────────────────────────────

const requestColumns = `id, student_id, unit_id, from_belt_code, to_belt_code, requested_by,
	requested_at, status, decided_by, decided_at, note, override`

// CreateRequest inserts a pending request.
func (r *CycleRepository) CreateRequest(ctx context.Context, req *progression.PromotionRequest) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO promotion_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, req.ID, req.StudentID, req.UnitID, string(req.FromBeltCode), string(req.ToBeltCode), req.RequestedBy,
		req.RequestedAt, string(req.Status), req.DecidedBy, req.DecidedAt, req.Note, req.Override)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateRequest
		}
		return fmt.Errorf("failed to insert promotion request: %w", err)
	}
	return nil
}

// GetRequest returns a request by id.
func (r *CycleRepository) GetRequest(ctx context.Context, requestID string) (*progression.PromotionRequest, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+requestColumns+` FROM promotion_requests WHERE id = $1`, requestID)
	req, err := scanRequest(row)
	if IsNoRows(err) {
		return nil, shared.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load promotion request: %w", err)
	}
	return req, nil
}

// DecideRequest stores the decision on a pending request.
func (r *CycleRepository) DecideRequest(ctx context.Context, req *progression.PromotionRequest) error {
	return decideRequest(ctx, r.conn, req)
}

func decideRequest(ctx context.Context, q Querier, req *progression.PromotionRequest) error {
	tag, err := q.Exec(ctx, `
		UPDATE promotion_requests SET status = $1, decided_by = $2, decided_at = $3, note = $4
		WHERE id = $5 AND status = 'PENDING'
	`, string(req.Status), req.DecidedBy, req.DecidedAt, req.Note, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update promotion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRequestNotPending
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// History loads everything recorded for a student, oldest first.
func (r *CycleRepository) History(ctx context.Context, studentID string) (*progression.History, error) {
	h := &progression.History{}

	err := r.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+cycleColumns+` FROM belt_cycles WHERE student_id = $1 ORDER BY started_at`, studentID)
		if err != nil {
			return err
		}
		for rows.Next() {
			c, err := scanCycle(rows)
			if err != nil {
				rows.Close()
				return err
			}
			h.Cycles = append(h.Cycles, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		grants, err := tx.Query(ctx, `
			SELECT g.id, g.cycle_id, g.degree_number, g.granted_at, g.granted_by, g.origin, g.note
			FROM degree_grants g
			JOIN belt_cycles c ON c.id = g.cycle_id
			WHERE c.student_id = $1
			ORDER BY g.granted_at, g.degree_number
		`, studentID)
		if err != nil {
			return err
		}
		h.Grants, err = pgx.CollectRows(grants, func(row pgx.CollectableRow) (progression.DegreeGrant, error) {
			var g progression.DegreeGrant
			var origin string
			err := row.Scan(&g.ID, &g.CycleID, &g.DegreeNumber, &g.GrantedAt, &g.GrantedBy, &origin, &g.Note)
			g.Origin = progression.Origin(origin)
			return g, err
		})
		if err != nil {
			return err
		}

		promos, err := tx.Query(ctx, `
			SELECT id, student_id, from_belt_code, to_belt_code, promoted_at, promoted_by, note, override
			FROM belt_promotions
			WHERE student_id = $1
			ORDER BY promoted_at
		`, studentID)
		if err != nil {
			return err
		}
		h.Promotions, err = pgx.CollectRows(promos, func(row pgx.CollectableRow) (progression.BeltPromotion, error) {
			var p progression.BeltPromotion
			var from, to string
			err := row.Scan(&p.ID, &p.StudentID, &from, &to, &p.PromotedAt, &p.PromotedBy, &p.Note, &p.Override)
			p.FromBeltCode, p.ToBeltCode = belt.Code(from), belt.Code(to)
			return p, err
		})
		if err != nil {
			return err
		}

		reqs, err := tx.Query(ctx, `SELECT `+requestColumns+` FROM promotion_requests WHERE student_id = $1 ORDER BY requested_at`, studentID)
		if err != nil {
			return err
		}
		h.Requests, err = pgx.CollectRows(reqs, func(row pgx.CollectableRow) (*progression.PromotionRequest, error) {
			return scanRequest(row)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return h, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanners
// ─────────────────────────────────────────────────────────────────────────────

func scanCycle(row pgx.Row) (*progression.BeltCycle, error) {
	var (
		c    progression.BeltCycle
		code string
	)
	err := row.Scan(&c.ID, &c.StudentID, &c.UnitID, &code, &c.StartedAt, &c.EndedAt,
		&c.DegreesGranted, &c.AttendancesSinceLastDegree, &c.AttendancesTotal, &c.Version)
	if err != nil {
		return nil, err
	}
	c.BeltCode = belt.Code(code)
	return &c, nil
}

func scanRequest(row pgx.Row) (*progression.PromotionRequest, error) {
	var (
		req      progression.PromotionRequest
		from, to string
		status   string
	)
	err := row.Scan(&req.ID, &req.StudentID, &req.UnitID, &from, &to, &req.RequestedBy,
		&req.RequestedAt, &status, &req.DecidedBy, &req.DecidedAt, &req.Note, &req.Override)
	if err != nil {
		return nil, err
	}
	req.FromBeltCode, req.ToBeltCode = belt.Code(from), belt.Code(to)
	req.Status = progression.RequestStatus(status)
	return &req, nil
}
