package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// CatalogRepository implements belt.Repository for PostgreSQL.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

const beltColumns = `code, name, color_hex, display_order, max_degrees, default_attendances_per_degree, category, active, updated_at`

// List returns every definition ordered by category and display order.
func (r *CatalogRepository) List(ctx context.Context) ([]*belt.Definition, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+beltColumns+` FROM belt_definitions ORDER BY category, display_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list belts: %w", err)
	}
	defer rows.Close()

	var defs []*belt.Definition
	for rows.Next() {
		d, err := scanBelt(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// Get returns one definition.
func (r *CatalogRepository) Get(ctx context.Context, code belt.Code) (*belt.Definition, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+beltColumns+` FROM belt_definitions WHERE code = $1`, string(code))
	d, err := scanBelt(row)
	if IsNoRows(err) {
		return nil, shared.ErrBeltNotFound
	}
	return d, err
}

// Save inserts or updates a definition.
func (r *CatalogRepository) Save(ctx context.Context, d *belt.Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO belt_definitions (`+beltColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			color_hex = EXCLUDED.color_hex,
			display_order = EXCLUDED.display_order,
			max_degrees = EXCLUDED.max_degrees,
			default_attendances_per_degree = EXCLUDED.default_attendances_per_degree,
			category = EXCLUDED.category,
			active = EXCLUDED.active,
			updated_at = NOW()
	`,
		string(d.Code), d.Name, d.ColorHex, d.DisplayOrder, d.MaxDegrees,
		d.DefaultAttendancesPerDegree, string(d.Category), d.Active,
	)
	if err != nil {
		if IsUniqueViolation(err) && constraintName(err) == "uq_belt_order" {
			return shared.ErrBeltOrderTaken
		}
		return fmt.Errorf("failed to save belt %s: %w", d.Code, err)
	}
	return nil
}

// Deactivate flags a definition inactive.
func (r *CatalogRepository) Deactivate(ctx context.Context, code belt.Code) error {
	tag, err := r.conn.Exec(ctx, `UPDATE belt_definitions SET active = FALSE, updated_at = NOW() WHERE code = $1`, string(code))
	if err != nil {
		return fmt.Errorf("failed to deactivate belt %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrBeltNotFound
	}
	return nil
}

func scanBelt(row pgx.Row) (*belt.Definition, error) {
	var (
		d        belt.Definition
		code     string
		category string
	)
	err := row.Scan(&code, &d.Name, &d.ColorHex, &d.DisplayOrder, &d.MaxDegrees,
		&d.DefaultAttendancesPerDegree, &category, &d.Active, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Code = belt.Code(code)
	d.Category = belt.Category(category)
	return &d, nil
}
