package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/events"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
)

// RollbackStep names one step of a rollback
type RollbackStep string

const (
	StepNotify         RollbackStep = "notify"
	StepDisableCurrent RollbackStep = "disable_current"
	StepActivateTarget RollbackStep = "activate_target"
	StepUpdateRouting  RollbackStep = "update_routing"
	StepVerify         RollbackStep = "verify"
	// StepCommit is the final state change of the rolled back version. It
	// is not part of RollbackSteps.
	StepCommit RollbackStep = "commit"
)

// RollbackSteps lists the steps in execution order
func RollbackSteps() []RollbackStep {
	return []RollbackStep{StepNotify, StepDisableCurrent, StepActivateTarget, StepUpdateRouting, StepVerify}
}

// RollbackOutcome is how an executed rollback ended
type RollbackOutcome string

const (
	// RollbackCompleted means traffic moved to the target and it verified healthy
	RollbackCompleted RollbackOutcome = "completed"
	// RollbackPartial means traffic moved but verification reported degraded
	// health; the rolled back version was deprecated with a grace period.
	RollbackPartial RollbackOutcome = "partial"
)

// RollbackRequest moves a subject's traffic from an active version back to
// an earlier one.
type RollbackRequest struct {
	Subject schema.Subject         `json:"subject"`
	From    schema.SemanticVersion `json:"from"`
	To      schema.SemanticVersion `json:"to"`
	Reason  string                 `json:"reason"`
	// Force runs the rollback even when the target is not backward
	// compatible with the current version.
	Force bool `json:"force"`
}

// RollbackPlan describes what a rollback affects. Outcome and Completed
// are filled in once it has run.
type RollbackPlan struct {
	From          schema.Ref            `json:"from"`
	To            schema.Ref            `json:"to"`
	Consumers     []string              `json:"consumers"`
	Compatibility *compatibility.Result `json:"compatibility"`
	Safe          bool                  `json:"safe"`
	Steps         []RollbackStep        `json:"steps"`
	Completed     []RollbackStep        `json:"completed,omitempty"`
	Outcome       RollbackOutcome       `json:"outcome,omitempty"`
}

func (r RollbackRequest) refs() (schema.Ref, schema.Ref, error) {
	if err := r.Subject.Validate(); err != nil {
		return schema.Ref{}, schema.Ref{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.From.Compare(r.To) == 0 {
		return schema.Ref{}, schema.Ref{}, fmt.Errorf("%w: cannot roll back %s to itself", ErrInvalidRequest, r.Subject.Version(r.From))
	}
	return r.Subject.Version(r.From), r.Subject.Version(r.To), nil
}

// PlanRollback reports the consumers affected by a rollback and whether the
// target can read what the current version wrote, without changing anything.
func (c *Coordinator) PlanRollback(ctx context.Context, req RollbackRequest) (plan *RollbackPlan, err error) {
	ctx, span := c.startSpan(ctx, "PlanRollback", attribute.String("schema.subject", req.Subject.String()))
	defer func() { observability.EndSpan(span, err) }()

	plan, _, err = c.plan(ctx, req)
	return plan, err
}

// plan builds the plan and returns the target's lifecycle
func (c *Coordinator) plan(ctx context.Context, req RollbackRequest) (*RollbackPlan, *schema.Lifecycle, error) {
	from, to, err := req.refs()
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.load(ctx, from, schema.StateActive); err != nil {
		return nil, nil, err
	}
	target, err := c.load(ctx, to, schema.StateActive, schema.StateDeprecated)
	if err != nil {
		return nil, nil, err
	}

	fromNS, err := c.normalized(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	toNS, err := c.normalized(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	// The target becomes the reader of data written under the current version.
	result, err := c.checker.Check(ctx, toNS, []compatibility.Candidate{{Version: from.Version, Schema: fromNS}}, compatibility.ModeBackward)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rollback compatibility: %w", err)
	}
	consumers, err := c.consumers.ActiveConsumers(ctx, from)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list consumers of %s: %w", from, err)
	}

	return &RollbackPlan{
		From:          from,
		To:            to,
		Consumers:     consumers,
		Compatibility: result,
		Safe:          result.Compatible,
		Steps:         RollbackSteps(),
	}, target, nil
}

type rollbackStep struct {
	name RollbackStep
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// Rollback moves traffic from req.From back to req.To. The current version
// is marked ROLLING_BACK while the steps run. A failing step undoes the
// completed ones in reverse order and returns the current version to ACTIVE.
func (c *Coordinator) Rollback(ctx context.Context, req RollbackRequest) (plan *RollbackPlan, err error) {
	ctx, span := c.startSpan(ctx, "Rollback",
		attribute.String("schema.subject", req.Subject.String()),
		attribute.String("rollback.from", req.From.String()),
		attribute.String("rollback.to", req.To.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	from, to, err := req.refs()
	if err != nil {
		return nil, err
	}
	// Version locks are taken in version order after the subject lock.
	keys := []string{subjectLockKey(req.Subject), from.Key(), to.Key()}
	if to.Version.Less(from.Version) {
		keys[1], keys[2] = to.Key(), from.Key()
	}
	release, err := c.acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	plan, evs, err := c.rollback(ctx, req)
	release()
	c.emit(ctx, evs...)
	return plan, err
}

func (c *Coordinator) rollback(ctx context.Context, req RollbackRequest) (*RollbackPlan, []events.DomainEvent, error) {
	actor := c.identity.Actor(ctx)
	plan, target, err := c.plan(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !plan.Safe && !req.Force {
		return plan, nil, &RollbackError{
			Plan: plan,
			Err:  fmt.Errorf("%w: %s cannot read data written by %s", ErrIncompatible, plan.To, plan.From),
		}
	}

	current, err := c.load(ctx, plan.From, schema.StateActive)
	if err != nil {
		return nil, nil, err
	}
	current, err = c.commit(ctx, current, actor, change{
		to:      schema.StateRollingBack,
		trigger: schema.TriggerRollbackStart,
		reason:  req.Reason,
	})
	if err != nil {
		return nil, nil, err
	}

	health := HealthHealthy
	reactivated := false
	priorDeprecation := target.Deprecation
	steps := []rollbackStep{
		{
			name: StepNotify,
			do: func(ctx context.Context) error {
				return c.router.Notify(ctx, plan.From, plan.To, plan.Consumers)
			},
			undo: func(ctx context.Context) error {
				return c.router.Notify(ctx, plan.To, plan.From, plan.Consumers)
			},
		},
		{
			name: StepDisableCurrent,
			do:   func(ctx context.Context) error { return c.router.Disable(ctx, plan.From) },
			undo: func(ctx context.Context) error { return c.router.Enable(ctx, plan.From) },
		},
		{
			name: StepActivateTarget,
			do: func(ctx context.Context) error {
				if err := c.router.Enable(ctx, plan.To); err != nil {
					return err
				}
				if target.CurrentState != schema.StateDeprecated {
					return nil
				}
				updated, err := c.commit(ctx, target, actor, change{
					to:               schema.StateActive,
					trigger:          schema.TriggerReactivate,
					reason:           fmt.Sprintf("rollback from %s", plan.From.Version),
					clearDeprecation: true,
				})
				if err != nil {
					// the step did not complete, so its own undo never runs
					if derr := c.router.Disable(ctx, plan.To); derr != nil {
						err = errors.Join(err, fmt.Errorf("failed to disable %s: %w", plan.To, derr))
					}
					return err
				}
				target, reactivated = updated, true
				return nil
			},
			undo: func(ctx context.Context) error {
				if !reactivated {
					return nil
				}
				ch := change{to: schema.StateDeprecated, trigger: schema.TriggerDeprecate, reason: "rollback reverted"}
				if priorDeprecation != nil {
					dep := *priorDeprecation
					ch.deprecation = &dep
				}
				updated, err := c.commit(ctx, target, actor, ch)
				if err != nil {
					return err
				}
				target, reactivated = updated, false
				return c.router.Disable(ctx, plan.To)
			},
		},
		{
			name: StepUpdateRouting,
			do:   func(ctx context.Context) error { return c.router.Route(ctx, req.Subject, plan.To) },
			undo: func(ctx context.Context) error { return c.router.Route(ctx, req.Subject, plan.From) },
		},
		{
			name: StepVerify,
			do: func(ctx context.Context) error {
				h, err := c.router.Verify(ctx, plan.To)
				if err != nil {
					return err
				}
				health = h
				return nil
			},
		},
	}

	// fail undoes the completed steps and resolves from back to ACTIVE, so
	// a failed rollback never leaves it in ROLLING_BACK.
	fail := func(step RollbackStep, completed []rollbackStep, err error) (*RollbackPlan, []events.DomainEvent, error) {
		c.undo(ctx, completed)
		reverted, rerr := c.commit(ctx, current, actor, change{
			to:      schema.StateActive,
			trigger: schema.TriggerRollbackRevert,
			reason:  fmt.Sprintf("%s failed: %v", step, err),
		})
		if rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to revert %s: %w", plan.From, rerr))
		} else {
			current = reverted
		}
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"from": plan.From.String(),
			"to":   plan.To.String(),
			"step": string(step),
		}).Warn("Rollback failed, reverted completed steps")
		return plan, nil, &RollbackError{Plan: plan, Step: step, Err: err}
	}

	for i, step := range steps {
		if err := step.do(ctx); err != nil {
			return fail(step.name, steps[:i], err)
		}
		plan.Completed = append(plan.Completed, step.name)
	}

	from := current.CurrentState
	var resolved *schema.Lifecycle
	if health == HealthDegraded {
		replacement := plan.To
		resolved, err = c.commit(ctx, current, actor, change{
			to:      schema.StateDeprecated,
			trigger: schema.TriggerRollbackPartial,
			reason:  fmt.Sprintf("rolled back to %s with degraded health", plan.To.Version),
			deprecation: &schema.DeprecationInfo{
				Reason:       fmt.Sprintf("rolled back to %s", plan.To.Version),
				DeprecatedBy: actor,
				SunsetDate:   c.clock.Now().Add(c.opts.RollbackGracePeriod),
				Replacement:  &replacement,
			},
		})
		plan.Outcome = RollbackPartial
	} else {
		resolved, err = c.commit(ctx, current, actor, change{
			to:      schema.StateActive,
			trigger: schema.TriggerRollbackComplete,
			reason:  req.Reason,
		})
		plan.Outcome = RollbackCompleted
	}
	if err != nil {
		plan.Outcome = ""
		return fail(StepCommit, steps, err)
	}
	current = resolved

	var evs []events.DomainEvent
	if reactivated {
		evs = append(evs, event(events.EventReactivated, target, schema.StateDeprecated, actor).
			WithData("rollback_from", plan.From.String()))
	}
	evs = append(evs, event(events.EventRolledBack, current, from, actor).
		WithData("to", plan.To.String()).
		WithData("outcome", string(plan.Outcome)).
		WithData("forced", !plan.Safe))
	c.logger.WithFields(map[string]interface{}{
		"from":    plan.From.String(),
		"to":      plan.To.String(),
		"outcome": string(plan.Outcome),
	}).Info("Rollback finished")
	return plan, evs, nil
}

// undo reverts completed steps newest first. Failures are logged; the
// remaining steps are still attempted.
func (c *Coordinator) undo(ctx context.Context, completed []rollbackStep) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.undo == nil {
			continue
		}
		if err := step.undo(ctx); err != nil {
			c.logger.WithError(err).WithField("step", string(step.name)).Error("Failed to undo rollback step")
		}
	}
}
