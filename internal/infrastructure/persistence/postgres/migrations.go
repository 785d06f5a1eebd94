package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations and tracks them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_belt_catalog_and_policies", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_belt_cycles", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_attendance_ledger", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "seed_belt_catalog", UpSQL: seedCatalogSQL(belt.DefaultDefinitions()), DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: BELT CATALOG AND UNIT POLICIES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS belt_definitions (
    code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(60) NOT NULL,
    color_hex VARCHAR(7) NOT NULL DEFAULT '',
    display_order INTEGER NOT NULL,
    max_degrees INTEGER NOT NULL,
    default_attendances_per_degree INTEGER NOT NULL,
    category VARCHAR(10) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_category CHECK (category IN ('CHILD', 'ADULT')),
    CONSTRAINT valid_limits CHECK (max_degrees > 0 AND default_attendances_per_degree > 0),
    CONSTRAINT uq_belt_order UNIQUE (category, display_order)
);

CREATE TABLE IF NOT EXISTS unit_policies (
    unit_id VARCHAR(64) PRIMARY KEY,
    min_attendance_percentage NUMERIC(5,2) NOT NULL DEFAULT 75,
    attendance_window_days INTEGER NOT NULL DEFAULT 90,
    auto_approve_degrees BOOLEAN NOT NULL DEFAULT TRUE,
    auto_approve_promotions BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_percentage CHECK (min_attendance_percentage BETWEEN 0 AND 100),
    CONSTRAINT valid_window CHECK (attendance_window_days > 0)
);

CREATE TABLE IF NOT EXISTS unit_belt_policies (
    unit_id VARCHAR(64) NOT NULL REFERENCES unit_policies(unit_id) ON DELETE CASCADE,
    belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    min_months_in_belt INTEGER,
    attendances_per_degree INTEGER,
    max_degrees INTEGER,

    PRIMARY KEY (unit_id, belt_code),
    CONSTRAINT valid_override CHECK (
        (min_months_in_belt IS NULL OR min_months_in_belt >= 0) AND
        (attendances_per_degree IS NULL OR attendances_per_degree > 0) AND
        (max_degrees IS NULL OR max_degrees > 0)
    )
);
`

const migration001Down = `
DROP TABLE IF EXISTS unit_belt_policies;
DROP TABLE IF EXISTS unit_policies;
DROP TABLE IF EXISTS belt_definitions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BELT CYCLES AND HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS belt_cycles (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    unit_id VARCHAR(64) NOT NULL,
    belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    degrees_granted INTEGER NOT NULL DEFAULT 0,
    attendances_since_last_degree INTEGER NOT NULL DEFAULT 0,
    attendances_total INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 0,

    CONSTRAINT valid_counters CHECK (
        degrees_granted >= 0 AND attendances_since_last_degree >= 0 AND attendances_total >= 0
    )
);

-- exactly one open cycle per student
CREATE UNIQUE INDEX IF NOT EXISTS uq_belt_cycles_open_student ON belt_cycles(student_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_belt_cycles_unit_open ON belt_cycles(unit_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_belt_cycles_student ON belt_cycles(student_id, started_at);

CREATE TABLE IF NOT EXISTS degree_grants (
    id VARCHAR(64) PRIMARY KEY,
    cycle_id VARCHAR(64) NOT NULL REFERENCES belt_cycles(id),
    degree_number INTEGER NOT NULL,
    granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    granted_by VARCHAR(64),
    origin VARCHAR(10) NOT NULL,
    note TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_origin CHECK (origin IN ('MANUAL', 'AUTOMATIC')),
    CONSTRAINT uq_degree_number UNIQUE (cycle_id, degree_number)
);

CREATE TABLE IF NOT EXISTS belt_promotions (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    from_belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    to_belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    promoted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    promoted_by VARCHAR(64),
    note TEXT NOT NULL DEFAULT '',
    override BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_belt_promotions_student ON belt_promotions(student_id, promoted_at);

CREATE TABLE IF NOT EXISTS promotion_requests (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    unit_id VARCHAR(64) NOT NULL,
    from_belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    to_belt_code VARCHAR(30) NOT NULL REFERENCES belt_definitions(code),
    requested_by VARCHAR(64),
    requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
    decided_by VARCHAR(64),
    decided_at TIMESTAMP WITH TIME ZONE,
    note TEXT NOT NULL DEFAULT '',
    override BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT valid_request_status CHECK (status IN ('PENDING', 'APPROVED', 'CANCELLED'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_promotion_requests_pending
    ON promotion_requests(student_id, to_belt_code) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_promotion_requests_student ON promotion_requests(student_id, requested_at);
`

const migration002Down = `
DROP TABLE IF EXISTS promotion_requests;
DROP TABLE IF EXISTS belt_promotions;
DROP TABLE IF EXISTS degree_grants;
DROP TABLE IF EXISTS belt_cycles;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ATTENDANCE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS class_sessions (
    id VARCHAR(64) PRIMARY KEY,
    unit_id VARCHAR(64) NOT NULL,
    held_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_class_sessions_unit ON class_sessions(unit_id, held_at);

CREATE TABLE IF NOT EXISTS check_ins (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    unit_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64),
    checked_in_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_ins_student_unit ON check_ins(student_id, unit_id, checked_in_at);
`

const migration003Down = `
DROP TABLE IF EXISTS check_ins;
DROP TABLE IF EXISTS class_sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: SEED CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration004Down = `DELETE FROM belt_definitions WHERE code NOT IN (SELECT DISTINCT belt_code FROM belt_cycles);`

func seedCatalogSQL(defs []*belt.Definition) string {
	var b strings.Builder
	b.WriteString("INSERT INTO belt_definitions (code, name, color_hex, display_order, max_degrees, default_attendances_per_degree, category, active) VALUES\n")
	for i, d := range defs {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    ('%s', '%s', '%s', %d, %d, %d, '%s', %t)",
			d.Code, strings.ReplaceAll(d.Name, "'", "''"), d.ColorHex,
			d.DisplayOrder, d.MaxDegrees, d.DefaultAttendancesPerDegree, d.Category, d.Active)
	}
	b.WriteString("\nON CONFLICT (code) DO NOTHING;\n")
	return b.String()
}
