package schema

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a schema version.
type State string

const (
	StateDraft                State = "DRAFT"
	StateValidating           State = "VALIDATING"
	StateValidationFailed     State = "VALIDATION_FAILED"
	StateCompatibilityCheck   State = "COMPATIBILITY_CHECK"
	StateIncompatibleRejected State = "INCOMPATIBLE_REJECTED"
	StateRegistered           State = "REGISTERED"
	StateActive               State = "ACTIVE"
	StateDeprecated           State = "DEPRECATED"
	StateArchived             State = "ARCHIVED"
	StateAbandoned            State = "ABANDONED"
	StateRollingBack          State = "ROLLING_BACK"
)

var transitions = map[State][]State{
	StateDraft:                {StateValidating, StateAbandoned},
	StateValidating:           {StateValidationFailed, StateCompatibilityCheck},
	StateValidationFailed:     {StateDraft, StateAbandoned},
	StateCompatibilityCheck:   {StateIncompatibleRejected, StateRegistered},
	StateIncompatibleRejected: {StateDraft, StateAbandoned},
	StateRegistered:           {StateActive, StateAbandoned},
	StateActive:               {StateDeprecated, StateActive, StateRollingBack},
	StateDeprecated:           {StateArchived, StateActive},
	StateRollingBack:          {StateActive, StateDeprecated},
	StateArchived:             nil,
	StateAbandoned:            nil,
}

// ParseState parses a state name case-insensitively.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown lifecycle state: %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s State) CanTransitionTo(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Targets returns the states reachable from s in one transition.
func (s State) Targets() []State {
	out := make([]State, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// IsRegistered reports whether a version in state s has passed every gate
// and belongs to the subject's compatibility history.
func (s State) IsRegistered() bool {
	switch s {
	case StateRegistered, StateActive, StateDeprecated, StateArchived, StateRollingBack:
		return true
	}
	return false
}

// IsPending reports whether s is a pre-registration state a draft can be
// resubmitted from.
func (s State) IsPending() bool {
	switch s {
	case StateDraft, StateValidationFailed, StateIncompatibleRejected:
		return true
	}
	return false
}

// Trigger names the operation that caused a transition.
type Trigger string

const (
	TriggerCreate              Trigger = "create"
	TriggerSubmit              Trigger = "submit"
	TriggerValidationFailed    Trigger = "validation_failed"
	TriggerValidationPassed    Trigger = "validation_passed"
	TriggerCompatibilityFailed Trigger = "compatibility_failed"
	TriggerCompatibilityPassed Trigger = "compatibility_passed"
	TriggerActivate            Trigger = "activate"
	TriggerDeprecate           Trigger = "deprecate"
	TriggerArchive             Trigger = "archive"
	TriggerReactivate          Trigger = "reactivate"
	TriggerRollbackStart       Trigger = "rollback_start"
	TriggerRollbackComplete    Trigger = "rollback_complete"
	TriggerRollbackPartial     Trigger = "rollback_partial"
	TriggerRollbackRevert      Trigger = "rollback_revert"
	TriggerResubmit            Trigger = "resubmit"
	TriggerAbandon             Trigger = "abandon"
	TriggerUpdateMetadata      Trigger = "update_metadata"
)

// TransitionRecord is one immutable entry of a lifecycle history.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
}

// Lifecycle tracks the state of one schema version.
type Lifecycle struct {
	Ref          Ref                `json:"ref"`
	CurrentState State              `json:"current_state"`
	History      []TransitionRecord `json:"history"`
	Deprecation  *DeprecationInfo   `json:"deprecation,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Revision     int                `json:"revision"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewLifecycle starts a lifecycle in DRAFT.
func NewLifecycle(ref Ref, at time.Time, actor string) *Lifecycle {
	return &Lifecycle{
		Ref:          ref,
		CurrentState: StateDraft,
		History: []TransitionRecord{{
			To:        StateDraft,
			Trigger:   TriggerCreate,
			Timestamp: at,
			Actor:     actor,
		}},
		UpdatedAt: at,
	}
}

// Apply appends rec after checking it continues the history legally.
func (l *Lifecycle) Apply(rec TransitionRecord) error {
	if rec.From != l.CurrentState {
		return fmt.Errorf("transition %s -> %s does not start at current state %s", rec.From, rec.To, l.CurrentState)
	}
	if !rec.From.CanTransitionTo(rec.To) {
		return fmt.Errorf("transition %s -> %s is not allowed", rec.From, rec.To)
	}
	l.History = append(l.History, rec)
	l.CurrentState = rec.To
	l.Revision++
	l.UpdatedAt = rec.Timestamp
	return nil
}

// Last returns the most recent transition.
func (l *Lifecycle) Last() TransitionRecord {
	return l.History[len(l.History)-1]
}

// CheckInvariants verifies the history is non-empty, every step is a legal
// transition and the current state matches the last record.
func (l *Lifecycle) CheckInvariants() error {
	if len(l.History) == 0 {
		return fmt.Errorf("lifecycle %s has no history", l.Ref)
	}
	for i := 1; i < len(l.History); i++ {
		prev, cur := l.History[i-1], l.History[i]
		if cur.From != prev.To {
			return fmt.Errorf("lifecycle %s history broken at %d: %s does not follow %s", l.Ref, i, cur.From, prev.To)
		}
		if !cur.From.CanTransitionTo(cur.To) {
			return fmt.Errorf("lifecycle %s history has illegal transition %s -> %s", l.Ref, cur.From, cur.To)
		}
		if cur.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("lifecycle %s history out of order at %d", l.Ref, i)
		}
	}
	if l.CurrentState != l.Last().To {
		return fmt.Errorf("lifecycle %s current state %s does not match last transition %s", l.Ref, l.CurrentState, l.Last().To)
	}
	return nil
}

// Clone returns a deep copy.
func (l *Lifecycle) Clone() *Lifecycle {
	if l == nil {
		return nil
	}
	out := *l
	out.History = append([]TransitionRecord(nil), l.History...)
	if l.Deprecation != nil {
		dep := *l.Deprecation
		if l.Deprecation.Replacement != nil {
			repl := *l.Deprecation.Replacement
			dep.Replacement = &repl
		}
		out.Deprecation = &dep
	}
	if l.Metadata != nil {
		out.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
