// Package command contains write operations (CQRS - Commands) of the
// graduation engine: enrollment, attendance accrual, degree grants, belt
// promotions and their approval workflow.
//
// Every command that touches a student's cycle runs under the student's
// lock and persists through a version compare-and-swap. Events are
// published after the write has committed.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/teamcruz/graduation-engine/internal/domain/attendance"
	"github.com/teamcruz/graduation-engine/internal/domain/belt"
	"github.com/teamcruz/graduation-engine/internal/domain/policy"
	"github.com/teamcruz/graduation-engine/internal/domain/progression"
	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// Deps bundles the collaborators shared by the command handlers.
type Deps struct {
	Cycles    progression.Repository
	Catalog   *belt.Registry
	Policies  policy.Repository
	Ledger    attendance.Ledger
	Locker    progression.Locker
	Publisher shared.EventPublisher
	Logger    *slog.Logger

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = shared.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

// effective resolves the policy that governs cycle right now.
func (d Deps) effective(ctx context.Context, c *progression.BeltCycle) (policy.Effective, error) {
	def, err := d.Catalog.Current().Get(c.BeltCode)
	if err != nil {
		return policy.Effective{}, err
	}
	return policy.EffectiveFor(ctx, d.Policies, c.UnitID, def)
}

// locked runs fn while holding the student's lock.
func (d Deps) locked(ctx context.Context, studentID string, fn func() error) error {
	unlock, err := d.Locker.Lock(ctx, studentID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (d Deps) publish(events ...shared.Event) {
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.Warn("event publish failed", "event_type", e.EventType(), "aggregate_id", e.AggregateID(), "error", err)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand checks struct tags and maps failures to ErrInvalidInput.
func validateCommand(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return shared.WrapError("command", op, shared.ErrInvalidInput, "validation failed", err)
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return shared.Errorf("command", op, shared.ErrInvalidInput, "invalid fields: %s", strings.Join(fields, ", "))
}
