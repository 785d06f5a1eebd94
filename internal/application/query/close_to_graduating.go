package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST CLOSE TO GRADUATING QUERY
// Студенты юнита, ближе всего к следующей степени или смене пояса.
// ══════════════════════════════════════════════════════════════════════════════

// ListCloseToGraduatingQuery содержит параметры запроса.
type ListCloseToGraduatingQuery struct {
	UnitID string

	// Category - фильтр по категории (пусто = все).
	Category belt.Category

	// BeltCode - фильтр по поясу (пусто = все).
	BeltCode belt.Code

	// Kinds - фильтр по статусу (пусто = DEGREE_DUE и BELT_CHANGE_ELIGIBLE).
	Kinds []progression.StatusKind

	// MinProgress - минимальная доля пути к лимиту степеней, 0..1.
	MinProgress float64

	// Limit - количество записей (по умолчанию 50, максимум 500).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *ListCloseToGraduatingQuery) Validate() error {
	if q.UnitID == "" {
		return shared.NewDomainError("query", "ListCloseToGraduating", shared.ErrInvalidInput, "unit id is required")
	}
	if q.Category != "" && !q.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	if q.MinProgress < 0 || q.MinProgress > 1 {
		return shared.NewDomainError("query", "ListCloseToGraduating", shared.ErrValueOutOfRange, "min progress must be between 0 and 1")
	}
	if q.Limit < 0 {
		return shared.NewDomainError("query", "ListCloseToGraduating", shared.ErrValueOutOfRange, "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if len(q.Kinds) == 0 {
		q.Kinds = []progression.StatusKind{progression.StatusDegreeDue, progression.StatusBeltChangeEligible}
	}
	return nil
}

// CloseToGraduatingResult contains the ordered statuses.
type CloseToGraduatingResult struct {
	Students []progression.Status

	// Skipped counts cycles that could not be evaluated.
	Skipped int
}

// ListCloseToGraduating returns matching statuses ordered by kind
// (eligible first) and then by progress, highest first.
func (e *Evaluator) ListCloseToGraduating(ctx context.Context, q ListCloseToGraduatingQuery) (*CloseToGraduatingResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	unit, err := e.policies.Get(ctx, q.UnitID)
	if err != nil {
		return nil, err
	}
	cycles, err := e.cycles.ListActiveByUnit(ctx, q.UnitID)
	if err != nil {
		return nil, fmt.Errorf("list_close_to_graduating: %w", err)
	}

	catalog := e.catalog.Current()
	wanted := make(map[progression.StatusKind]bool, len(q.Kinds))
	for _, k := range q.Kinds {
		wanted[k] = true
	}

	res := &CloseToGraduatingResult{}
	for _, c := range cycles {
		if q.BeltCode != "" && c.BeltCode != q.BeltCode {
			continue
		}
		if q.Category != "" {
			def, err := catalog.Get(c.BeltCode)
			if err != nil || def.Category != q.Category {
				continue
			}
		}

		st, err := e.evaluateCycle(ctx, c, unit)
		if err != nil {
			res.Skipped++
			continue
		}
		if !wanted[st.Kind] || st.Progress() < q.MinProgress {
			continue
		}
		res.Students = append(res.Students, st)
	}

	sort.SliceStable(res.Students, func(i, j int) bool {
		a, b := res.Students[i], res.Students[j]
		if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
			return ra < rb
		}
		if pa, pb := a.Progress(), b.Progress(); pa != pb {
			return pa > pb
		}
		return a.StudentID < b.StudentID
	})
	if len(res.Students) > q.Limit {
		res.Students = res.Students[:q.Limit]
	}
	return res, nil
}

func kindRank(k progression.StatusKind) int {
	switch k {
	case progression.StatusBeltChangeEligible:
		return 0
	case progression.StatusDegreeDue:
		return 1
	default:
		return 2
	}
}
