package progression

import (
	"context"
)

// Repository - хранилище циклов, истории и заявок.
//
// Все записи цикла - compare-and-swap по Version: при несовпадении
// возвращается ErrVersionConflict, при успехе Version увеличивается
// и записывается обратно в переданный цикл.
type Repository interface {
	// ActiveCycle возвращает открытый цикл студента или ErrNoActiveCycle.
	ActiveCycle(ctx context.Context, studentID string) (*BeltCycle, error)

	// GetCycle возвращает цикл по ID или ErrCycleNotFound.
	GetCycle(ctx context.Context, cycleID string) (*BeltCycle, error)

	// ListActiveByUnit возвращает открытые циклы юнита.
	ListActiveByUnit(ctx context.Context, unitID string) ([]*BeltCycle, error)

	// CreateCycle сохраняет первый цикл студента. ErrActiveCycleExists,
	// если открытый цикл уже есть.
	CreateCycle(ctx context.Context, c *BeltCycle) error

	// SaveCycle сохраняет счётчики цикла.
	SaveCycle(ctx context.Context, c *BeltCycle, expectedVersion int64) error

	// CommitGrant атомарно сохраняет цикл и строку DegreeGrant.
	CommitGrant(ctx context.Context, c *BeltCycle, expectedVersion int64, g DegreeGrant) error

	// CommitPromotion атомарно закрывает старый цикл, открывает новый,
	// добавляет BeltPromotion и, если передана, сохраняет решение по заявке.
	// Частичное применение не наблюдаемо.
	CommitPromotion(ctx context.Context, p *Promotion, decided *PromotionRequest) error

	// CreateRequest сохраняет заявку. ErrDuplicateRequest, если у студента
	// уже есть ожидающая заявка на тот же пояс.
	CreateRequest(ctx context.Context, r *PromotionRequest) error

	// GetRequest возвращает заявку или ErrRequestNotFound.
	GetRequest(ctx context.Context, requestID string) (*PromotionRequest, error)

	// DecideRequest сохраняет решение по ожидающей заявке.
	// ErrRequestNotPending, если решение уже принято.
	DecideRequest(ctx context.Context, r *PromotionRequest) error

	// History возвращает всю историю студента.
	History(ctx context.Context, studentID string) (*History, error)
}

// History - история прогрессии студента, от старых записей к новым.
type History struct {
	Cycles     []*BeltCycle        `json:"cycles"`
	Grants     []DegreeGrant       `json:"grants"`
	Promotions []BeltPromotion     `json:"promotions"`
	Requests   []*PromotionRequest `json:"requests"`
}

// Locker сериализует операции над одним студентом.
type Locker interface {
	// Lock захватывает студента. unlock безопасно вызывать один раз.
	// При конкуренции возвращает ошибку вида ErrConcurrentPromotionConflict
	// или ждёт, в зависимости от реализации.
	Lock(ctx context.Context, studentID string) (unlock func(), err error)
}
