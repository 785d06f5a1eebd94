// Package shared contains common domain types, errors and events that are
// used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Approval UIs and notification services consume them;
// the engine itself never reacts to its own events.
const (
	// Attendance events
	EventAttendanceRecorded EventType = "progression.attendance_recorded"

	// Grant events
	EventDegreeGranted EventType = "progression.degree_granted"
	EventBeltPromoted  EventType = "progression.belt_promoted"
	EventCycleOpened   EventType = "progression.cycle_opened"

	// Eligibility events
	EventBeltChangeEligible EventType = "progression.belt_change_eligible"

	// Approval workflow events
	EventPromotionRequested EventType = "approval.promotion_requested"
	EventPromotionApproved  EventType = "approval.promotion_approved"
	EventPromotionCancelled EventType = "approval.promotion_cancelled"

	// Configuration events
	EventUnitPolicyUpdated EventType = "policy.unit_updated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Attendance Events
// ═══════════════════════════════════════════════════════════════════════════

// AttendanceRecordedEvent is emitted after accrual counters moved.
type AttendanceRecordedEvent struct {
	BaseEvent
	CycleID                    string `json:"cycle_id"`
	BeltCode                   string `json:"belt_code"`
	Count                      int    `json:"count"`
	AttendancesSinceLastDegree int    `json:"attendances_since_last_degree"`
}

// Payload implements Event interface.
func (e AttendanceRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":                      e.CycleID,
		"belt_code":                     e.BeltCode,
		"count":                         e.Count,
		"attendances_since_last_degree": e.AttendancesSinceLastDegree,
	}
}

// NewAttendanceRecordedEvent creates a new AttendanceRecordedEvent.
func NewAttendanceRecordedEvent(studentID, cycleID, beltCode string, count, since int, at time.Time) AttendanceRecordedEvent {
	return AttendanceRecordedEvent{
		BaseEvent:                  NewBaseEvent(EventAttendanceRecorded, studentID, at),
		CycleID:                    cycleID,
		BeltCode:                   beltCode,
		Count:                      count,
		AttendancesSinceLastDegree: since,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Grant Events
// ═══════════════════════════════════════════════════════════════════════════

// DegreeGrantedEvent is emitted when a degree grant has been persisted.
type DegreeGrantedEvent struct {
	BaseEvent
	CycleID      string `json:"cycle_id"`
	BeltCode     string `json:"belt_code"`
	DegreeNumber int    `json:"degree_number"`
	Origin       string `json:"origin"`
	GrantedBy    string `json:"granted_by,omitempty"`
}

// Payload implements Event interface.
func (e DegreeGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":      e.CycleID,
		"belt_code":     e.BeltCode,
		"degree_number": e.DegreeNumber,
		"origin":        e.Origin,
		"granted_by":    e.GrantedBy,
	}
}

// NewDegreeGrantedEvent creates a new DegreeGrantedEvent.
func NewDegreeGrantedEvent(studentID, cycleID, beltCode string, degree int, origin, grantedBy string, at time.Time) DegreeGrantedEvent {
	return DegreeGrantedEvent{
		BaseEvent:    NewBaseEvent(EventDegreeGranted, studentID, at),
		CycleID:      cycleID,
		BeltCode:     beltCode,
		DegreeNumber: degree,
		Origin:       origin,
		GrantedBy:    grantedBy,
	}
}

// BeltPromotedEvent is emitted when a student moved to a new belt.
type BeltPromotedEvent struct {
	BaseEvent
	FromBeltCode string `json:"from_belt_code"`
	ToBeltCode   string `json:"to_belt_code"`
	NewCycleID   string `json:"new_cycle_id"`
	PromotedBy   string `json:"promoted_by,omitempty"`
	Override     bool   `json:"override"`
}

// Payload implements Event interface.
func (e BeltPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_belt_code": e.FromBeltCode,
		"to_belt_code":   e.ToBeltCode,
		"new_cycle_id":   e.NewCycleID,
		"promoted_by":    e.PromotedBy,
		"override":       e.Override,
	}
}

// NewBeltPromotedEvent creates a new BeltPromotedEvent.
func NewBeltPromotedEvent(studentID, from, to, newCycleID, promotedBy string, override bool, at time.Time) BeltPromotedEvent {
	return BeltPromotedEvent{
		BaseEvent:    NewBaseEvent(EventBeltPromoted, studentID, at),
		FromBeltCode: from,
		ToBeltCode:   to,
		NewCycleID:   newCycleID,
		PromotedBy:   promotedBy,
		Override:     override,
	}
}

// CycleOpenedEvent is emitted when a student enrolls into their first belt.
type CycleOpenedEvent struct {
	BaseEvent
	CycleID  string `json:"cycle_id"`
	UnitID   string `json:"unit_id"`
	BeltCode string `json:"belt_code"`
}

// Payload implements Event interface.
func (e CycleOpenedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":  e.CycleID,
		"unit_id":   e.UnitID,
		"belt_code": e.BeltCode,
	}
}

// NewCycleOpenedEvent creates a new CycleOpenedEvent.
func NewCycleOpenedEvent(studentID, cycleID, unitID, beltCode string, at time.Time) CycleOpenedEvent {
	return CycleOpenedEvent{
		BaseEvent: NewBaseEvent(EventCycleOpened, studentID, at),
		CycleID:   cycleID,
		UnitID:    unitID,
		BeltCode:  beltCode,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Eligibility & Approval Events
// ═══════════════════════════════════════════════════════════════════════════

// BeltChangeEligibleEvent tells the approval UI a student passed every gate.
type BeltChangeEligibleEvent struct {
	BaseEvent
	UnitID       string `json:"unit_id"`
	BeltCode     string `json:"belt_code"`
	NextBeltCode string `json:"next_belt_code,omitempty"`
}

// Payload implements Event interface.
func (e BeltChangeEligibleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"unit_id":        e.UnitID,
		"belt_code":      e.BeltCode,
		"next_belt_code": e.NextBeltCode,
	}
}

// NewBeltChangeEligibleEvent creates a new BeltChangeEligibleEvent.
func NewBeltChangeEligibleEvent(studentID, unitID, beltCode, next string, at time.Time) BeltChangeEligibleEvent {
	return BeltChangeEligibleEvent{
		BaseEvent:    NewBaseEvent(EventBeltChangeEligible, studentID, at),
		UnitID:       unitID,
		BeltCode:     beltCode,
		NextBeltCode: next,
	}
}

// PromotionDecisionEvent covers request, approval and cancellation of a
// pending promotion. The Type field tells them apart.
type PromotionDecisionEvent struct {
	BaseEvent
	RequestID    string `json:"request_id"`
	FromBeltCode string `json:"from_belt_code"`
	ToBeltCode   string `json:"to_belt_code"`
	Actor        string `json:"actor,omitempty"`
}

// Payload implements Event interface.
func (e PromotionDecisionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id":     e.RequestID,
		"from_belt_code": e.FromBeltCode,
		"to_belt_code":   e.ToBeltCode,
		"actor":          e.Actor,
	}
}

// NewPromotionDecisionEvent creates a new PromotionDecisionEvent.
func NewPromotionDecisionEvent(eventType EventType, studentID, requestID, from, to, actor string, at time.Time) PromotionDecisionEvent {
	return PromotionDecisionEvent{
		BaseEvent:    NewBaseEvent(eventType, studentID, at),
		RequestID:    requestID,
		FromBeltCode: from,
		ToBeltCode:   to,
		Actor:        actor,
	}
}

// UnitPolicyUpdatedEvent is emitted when a unit manager saved new settings.
type UnitPolicyUpdatedEvent struct {
	BaseEvent
	MinAttendancePercentage float64 `json:"min_attendance_percentage"`
	BeltOverrides           int     `json:"belt_overrides"`
}

// Payload implements Event interface.
func (e UnitPolicyUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"min_attendance_percentage": e.MinAttendancePercentage,
		"belt_overrides":            e.BeltOverrides,
	}
}

// NewUnitPolicyUpdatedEvent creates a new UnitPolicyUpdatedEvent.
func NewUnitPolicyUpdatedEvent(unitID string, minPct float64, overrides int, at time.Time) UnitPolicyUpdatedEvent {
	return UnitPolicyUpdatedEvent{
		BaseEvent:               NewBaseEvent(EventUnitPolicyUpdated, unitID, at),
		MinAttendancePercentage: minPct,
		BeltOverrides:           overrides,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes the event payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ base() BaseEvent }); ok {
		env.CorrelationID = b.base().CorrelationID
	}
	return env, nil
}

func (e BaseEvent) base() BaseEvent { return e }

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
