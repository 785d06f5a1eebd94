// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Configuration errors
	ErrPolicyNotFound = errors.New("graduation policy not found")

	// Progression rule violations
	ErrDegreeCapExceeded   = errors.New("degree cap exceeded")
	ErrDegreeNotDue        = errors.New("degree not justified by accrued attendances")
	ErrInvalidBeltSequence = errors.New("invalid belt sequence")

	// Concurrency errors
	ErrConcurrentPromotionConflict = errors.New("concurrent promotion conflict")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "belt", "policy", "progression"
	Op      string // Operation that failed, e.g., "GrantDegree"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Errorf builds a domain error with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// Belt catalog errors
var (
	ErrBeltNotFound     = NewDomainError("belt", "Find", ErrNotFound, "belt definition not found")
	ErrBeltExists       = NewDomainError("belt", "Save", ErrAlreadyExists, "belt code already defined")
	ErrBeltOrderTaken   = NewDomainError("belt", "Save", ErrInvalidInput, "display order already used in category")
	ErrInvalidBeltCode  = NewDomainError("belt", "Validate", ErrInvalidInput, "invalid belt code")
	ErrInvalidCategory  = NewDomainError("belt", "Validate", ErrInvalidInput, "invalid belt category")
	ErrNoNextBelt       = NewDomainError("belt", "Next", ErrNotFound, "no next belt in category")
	ErrBeltInactive     = NewDomainError("belt", "Check", ErrInvalidState, "belt definition is inactive")
	ErrInvalidBeltLimit = NewDomainError("belt", "Validate", ErrValueOutOfRange, "degrees and attendances per degree must be positive")
)

// Policy errors
var (
	ErrUnitPolicyNotFound = NewDomainError("policy", "Get", ErrPolicyNotFound, "unit has no graduation policy")
	ErrInvalidPercentage  = NewDomainError("policy", "Validate", ErrValueOutOfRange, "minimum attendance percentage must be between 0 and 100")
	ErrInvalidOverride    = NewDomainError("policy", "Validate", ErrValueOutOfRange, "belt override values must be positive")
)

// Progression errors
var (
	ErrNoActiveCycle       = NewDomainError("progression", "FindActiveCycle", ErrNotFound, "student has no active belt cycle")
	ErrCycleNotFound       = NewDomainError("progression", "FindCycle", ErrNotFound, "belt cycle not found")
	ErrActiveCycleExists   = NewDomainError("progression", "OpenCycle", ErrAlreadyExists, "student already has an active belt cycle")
	ErrCycleClosed         = NewDomainError("progression", "Check", ErrInvalidState, "belt cycle is closed")
	ErrCapExceeded         = NewDomainError("progression", "GrantDegree", ErrDegreeCapExceeded, "belt already has the maximum number of degrees")
	ErrNothingAccrued      = NewDomainError("progression", "GrantDegree", ErrDegreeNotDue, "accrued attendances do not justify a degree")
	ErrSkippedBelt         = NewDomainError("progression", "PromoteBelt", ErrInvalidBeltSequence, "target belt is not the immediate next belt")
	ErrVersionConflict     = NewDomainError("progression", "Save", ErrConcurrentPromotionConflict, "belt cycle was modified concurrently")
	ErrStudentLocked       = NewDomainError("progression", "Lock", ErrConcurrentPromotionConflict, "another operation holds the student's progression")
	ErrInvalidAttendance   = NewDomainError("progression", "RecordAttendance", ErrInvalidInput, "attendance count must be at least 1")
	ErrRequestNotFound     = NewDomainError("progression", "FindRequest", ErrNotFound, "promotion request not found")
	ErrRequestNotPending   = NewDomainError("progression", "DecideRequest", ErrInvalidState, "promotion request is not pending")
	ErrDuplicateRequest    = NewDomainError("progression", "RequestPromotion", ErrAlreadyExists, "a pending promotion to this belt already exists")
	ErrRequestOutdated     = NewDomainError("progression", "ApprovePromotion", ErrInvalidState, "student's belt changed since the request was made")
	ErrAlreadyHoldsBelt    = NewDomainError("progression", "PromoteBelt", ErrInvalidBeltSequence, "student already holds the target belt")
	ErrDowngradeNotAllowed = NewDomainError("progression", "PromoteBelt", ErrInvalidBeltSequence, "target belt ranks below the current belt")
)

// Attendance ledger errors
var (
	ErrInvalidCheckIn = NewDomainError("attendance", "Validate", ErrInvalidInput, "check-in requires id, student and unit")
	ErrInvalidWindow  = NewDomainError("attendance", "Rate", ErrInvalidInput, "attendance window end precedes start")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsPolicyNotFound reports a configuration error: the unit cannot be resolved.
func IsPolicyNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}

// IsRuleViolation reports a rejected progression action. These are never retried.
func IsRuleViolation(err error) bool {
	return errors.Is(err, ErrDegreeCapExceeded) ||
		errors.Is(err, ErrDegreeNotDue) ||
		errors.Is(err, ErrInvalidBeltSequence)
}

// IsConflict reports lock contention on a student's active cycle.
// The caller may retry once.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentPromotionConflict)
}
