package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

var (
	// ErrBusy is returned when the lock for a version is not acquired in time
	ErrBusy = errors.New("schema version is busy")
	// ErrActiveConsumers is returned when archiving a version still in use
	ErrActiveConsumers = errors.New("schema version has active consumers")
	// ErrValidationFailed marks a registration rejected by the validator
	ErrValidationFailed = errors.New("schema validation failed")
	// ErrIncompatible marks a registration or rollback rejected by the
	// compatibility checker
	ErrIncompatible = errors.New("schema is incompatible")
	// ErrInvalidRequest marks a malformed request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVersionNotIncreasing is returned when a manual version does not sort
	// above the latest registered version
	ErrVersionNotIncreasing = compatibility.ErrVersionNotIncreasing
)

// StateError is returned when a version is not in a state the operation
// accepts.
type StateError struct {
	Ref      schema.Ref
	Expected []schema.State
	Actual   schema.State
}

func (e *StateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("schema %s is %s, expected %s", e.Ref, e.Actual, strings.Join(expected, " or "))
}

// DeprecationError is returned for an invalid deprecation request
type DeprecationError struct {
	Ref    schema.Ref
	Reason string
}

func (e *DeprecationError) Error() string {
	return fmt.Sprintf("cannot deprecate %s: %s", e.Ref, e.Reason)
}

// RollbackError reports a rollback that was refused or failed at Step. The
// plan is attached so callers can show what was attempted.
type RollbackError struct {
	Plan *RollbackPlan
	Step RollbackStep
	Err  error
}

func (e *RollbackError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("rollback refused: %v", e.Err)
	}
	return fmt.Sprintf("rollback failed at %s: %v", e.Step, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// Stage names the registration step that failed
type Stage string

const (
	StageParse         Stage = "parse"
	StageVersion       Stage = "version"
	StageValidation    Stage = "validation"
	StageCompatibility Stage = "compatibility"
	StagePersist       Stage = "persist"
)

// RegistrationError describes a registration that did not reach REGISTERED.
// Report and Result are set for the stages that produced them.
type RegistrationError struct {
	Stage  Stage
	Ref    schema.Ref
	Report *validation.Report
	Result *compatibility.Result
	Err    error
}

func (e *RegistrationError) Error() string {
	subject := e.Ref.Subject().String()
	if !e.Ref.Version.IsZero() {
		subject = e.Ref.String()
	}
	switch {
	case e.Report != nil && !e.Report.Valid:
		return fmt.Sprintf("registration of %s failed at %s: %v: %s", subject, e.Stage, e.Err, e.Report.Summary())
	case e.Result != nil && !e.Result.Compatible:
		return fmt.Sprintf("registration of %s failed at %s: %v: %d breaking change(s)", subject, e.Stage, e.Err, len(e.Result.Breaking()))
	}
	return fmt.Sprintf("registration of %s failed at %s: %v", subject, e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether the version was persisted and left in
// VALIDATION_FAILED or INCOMPATIBLE_REJECTED, from where it can be resubmitted.
func (e *RegistrationError) IsRejection() bool {
	return errors.Is(e.Err, ErrValidationFailed) || errors.Is(e.Err, ErrIncompatible)
}

func stateError(ref schema.Ref, actual schema.State, expected ...schema.State) *StateError {
	return &StateError{Ref: ref, Expected: expected, Actual: actual}
}

func deprecationError(ref schema.Ref, format string, args ...interface{}) *DeprecationError {
	return &DeprecationError{Ref: ref, Reason: fmt.Sprintf(format, args...)}
}
