package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/events"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
)

const (
	orderV1 = `{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`
	// removing a defaulted field stays readable
	orderWithLocale = `{"type":"object","properties":{"id":{"type":"string"},"locale":{"type":"string","default":"en"}},"required":["id"]}`
	orderWithNote   = `{"type":"object","properties":{"id":{"type":"string"},"note":{"type":"string"}},"required":["id"]}`
)

var orders = schema.Subject{Namespace: "com.acme", Name: "orders"}

// failingRouter fails Route and records everything else
type failingRouter struct {
	*MemoryRouter
	err error
}

func (r *failingRouter) Route(context.Context, schema.Subject, schema.Ref) error {
	return r.err
}

// failingCommits fails every transition with the given trigger
type failingCommits struct {
	storage.Store
	trigger schema.Trigger
	err     error
}

func (s *failingCommits) CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t storage.Transition) (*schema.Lifecycle, error) {
	if t.Record.Trigger == s.trigger {
		return nil, s.err
	}
	return s.Store.CommitTransition(ctx, ref, expected, t)
}

func withFailingCommit(trigger schema.Trigger, err error) func(*Deps, *Options) {
	return func(d *Deps, _ *Options) {
		d.Store = &failingCommits{Store: d.Store, trigger: trigger, err: err}
	}
}

// setupRollback leaves v1 DEPRECATED and v2 ACTIVE
func setupRollback(t *testing.T, h *harness, newer string) (schema.Ref, schema.Ref) {
	t.Helper()
	v1 := h.active(t, orders, orderV1)
	_, err := h.c.Deprecate(context.Background(), v1, DeprecateRequest{
		Reason:     "superseded",
		SunsetDate: t0.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	v2 := h.active(t, orders, newer)
	h.drain(t, 5)
	return v1, v2
}

func rollbackRequest(from, to schema.Ref) RollbackRequest {
	return RollbackRequest{
		Subject: from.Subject(),
		From:    from.Version,
		To:      to.Version,
		Reason:  "error rate spike",
	}
}

func TestPlanRollback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)
	require.NoError(t, h.consumers.Register(ctx, v2, "checkout"))

	plan, err := h.c.PlanRollback(ctx, rollbackRequest(v2, v1))
	require.NoError(t, err)
	assert.Equal(t, v2, plan.From)
	assert.Equal(t, v1, plan.To)
	assert.True(t, plan.Safe)
	assert.Equal(t, []string{"checkout"}, plan.Consumers)
	assert.Equal(t, RollbackSteps(), plan.Steps)
	assert.Empty(t, plan.Completed)
	assert.Equal(t, compatibility.ModeBackward, plan.Compatibility.Mode)

	// planning changes nothing
	assert.Equal(t, schema.StateActive, h.state(t, v2))
	assert.Equal(t, schema.StateDeprecated, h.state(t, v1))
	assert.Empty(t, h.router.Notifications())
}

func TestPlanRollback_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)
	v3 := h.register(t, input(orders, `{"type":"object","properties":{"id":{"type":"string"},"locale":{"type":"string","default":"en"},"total":{"type":"number"}},"required":["id"]}`)).Schema.Ref

	var stateErr *StateError

	// from must be active
	_, err := h.c.PlanRollback(ctx, rollbackRequest(v1, v2))
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, v1, stateErr.Ref)

	// to must have been live
	_, err = h.c.PlanRollback(ctx, rollbackRequest(v2, v3))
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, schema.StateRegistered, stateErr.Actual)

	_, err = h.c.PlanRollback(ctx, rollbackRequest(v2, v2))
	assert.Error(t, err)
}

func TestRollback_Completed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)
	require.NoError(t, h.consumers.Register(ctx, v2, "checkout"))

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	require.NoError(t, err)
	assert.Equal(t, RollbackCompleted, plan.Outcome)
	assert.Equal(t, RollbackSteps(), plan.Completed)

	from, err := h.c.Lifecycle(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, schema.StateActive, from.CurrentState)
	require.NoError(t, from.CheckInvariants())
	n := len(from.History)
	assert.Equal(t, schema.TriggerRollbackStart, from.History[n-2].Trigger)
	assert.Equal(t, schema.TriggerRollbackComplete, from.History[n-1].Trigger)
	assert.Equal(t, "error rate spike", from.History[n-2].Reason)

	to, err := h.c.Lifecycle(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, schema.StateActive, to.CurrentState)
	assert.Nil(t, to.Deprecation)

	current, ok := h.router.Current(orders)
	require.True(t, ok)
	assert.Equal(t, v1, current)
	assert.False(t, h.router.Enabled(v2))
	assert.True(t, h.router.Enabled(v1))
	assert.Equal(t, []Notification{{From: v2, To: v1, Consumers: []string{"checkout"}}}, h.router.Notifications())

	evs, err := h.sink.WaitFor(2, eventWait)
	require.NoError(t, err)
	assert.ElementsMatch(t, []events.EventType{events.EventReactivated, events.EventRolledBack}, types(evs))
	for _, ev := range evs {
		if ev.Type != events.EventRolledBack {
			continue
		}
		assert.Equal(t, v2, ev.Ref)
		assert.Equal(t, schema.StateRollingBack, ev.From)
		assert.Equal(t, schema.StateActive, ev.To)
		assert.Equal(t, "completed", ev.Data["outcome"])
		assert.Equal(t, false, ev.Data["forced"])
	}
	assert.Equal(t, 0, h.locker.Len())
}

func TestRollback_TargetStillActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1 := h.active(t, orders, orderV1)
	v2 := h.active(t, orders, orderWithLocale)
	h.drain(t, 4)

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	require.NoError(t, err)
	assert.Equal(t, RollbackCompleted, plan.Outcome)
	assert.Equal(t, schema.StateActive, h.state(t, v1))

	evs, err := h.sink.WaitFor(1, eventWait)
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{events.EventRolledBack}, types(evs))
}

func TestRollback_RefusedWhenIncompatible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithNote)

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.Empty(t, rbErr.Step)
	require.NotNil(t, rbErr.Plan)
	assert.False(t, rbErr.Plan.Safe)
	assert.NotEmpty(t, rbErr.Plan.Compatibility.Breaking())
	assert.Equal(t, rbErr.Plan, plan)

	lc, err := h.c.Lifecycle(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, schema.StateActive, lc.CurrentState)
	assert.Equal(t, schema.TriggerActivate, lc.Last().Trigger)
	assert.Empty(t, h.router.Notifications())
}

func TestRollback_Forced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithNote)

	req := rollbackRequest(v2, v1)
	req.Force = true
	plan, err := h.c.Rollback(ctx, req)
	require.NoError(t, err)
	assert.False(t, plan.Safe)
	assert.Equal(t, RollbackCompleted, plan.Outcome)

	evs, err := h.sink.WaitFor(2, eventWait)
	require.NoError(t, err)
	for _, ev := range evs {
		if ev.Type == events.EventRolledBack {
			assert.Equal(t, true, ev.Data["forced"])
		}
	}
}

func TestRollback_StepFailureReverts(t *testing.T) {
	routeErr := errors.New("routing table unavailable")
	router := &failingRouter{MemoryRouter: NewMemoryRouter(), err: routeErr}
	h := newHarness(t, func(d *Deps, _ *Options) { d.Router = router })
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)

	before, err := h.c.Lifecycle(ctx, v1)
	require.NoError(t, err)

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.ErrorIs(t, err, routeErr)
	assert.Equal(t, StepUpdateRouting, rbErr.Step)
	assert.Equal(t, []RollbackStep{StepNotify, StepDisableCurrent, StepActivateTarget}, plan.Completed)
	assert.Empty(t, plan.Outcome)

	from, err := h.c.Lifecycle(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, schema.StateActive, from.CurrentState)
	assert.Equal(t, schema.TriggerRollbackRevert, from.Last().Trigger)
	require.NoError(t, from.CheckInvariants())

	// the target goes back to its previous deprecation
	to, err := h.c.Lifecycle(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, schema.StateDeprecated, to.CurrentState)
	require.NotNil(t, to.Deprecation)
	assert.Equal(t, before.Deprecation.Reason, to.Deprecation.Reason)
	assert.Equal(t, before.Deprecation.SunsetDate, to.Deprecation.SunsetDate)
	assert.Equal(t, before.Deprecation.DeprecatedAt, to.Deprecation.DeprecatedAt)
	require.NoError(t, to.CheckInvariants())

	assert.True(t, router.Enabled(v2))
	assert.False(t, router.Enabled(v1))
	assert.Equal(t, []Notification{
		{From: v2, To: v1},
		{From: v1, To: v2},
	}, router.Notifications())

	// failed rollbacks publish nothing
	_, err = h.sink.WaitFor(1, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestRollback_FinalCommitFailureReverts(t *testing.T) {
	storeErr := errors.New("store unavailable")
	for _, tc := range []struct {
		name    string
		trigger schema.Trigger
		health  Health
	}{
		{"completed", schema.TriggerRollbackComplete, HealthHealthy},
		{"partial", schema.TriggerRollbackPartial, HealthDegraded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, withFailingCommit(tc.trigger, storeErr))
			ctx := context.Background()
			v1, v2 := setupRollback(t, h, orderWithLocale)
			h.router.SetHealth(v1, tc.health)

			plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
			var rbErr *RollbackError
			require.ErrorAs(t, err, &rbErr)
			assert.ErrorIs(t, err, storeErr)
			assert.Equal(t, StepCommit, rbErr.Step)
			assert.Empty(t, plan.Outcome)

			from, err := h.c.Lifecycle(ctx, v2)
			require.NoError(t, err)
			assert.Equal(t, schema.StateActive, from.CurrentState)
			assert.Equal(t, schema.TriggerRollbackRevert, from.Last().Trigger)
			require.NoError(t, from.CheckInvariants())

			assert.Equal(t, schema.StateDeprecated, h.state(t, v1))
			current, ok := h.router.Current(orders)
			require.True(t, ok)
			assert.Equal(t, v2, current)
			assert.True(t, h.router.Enabled(v2))
			assert.False(t, h.router.Enabled(v1))

			_, err = h.sink.WaitFor(1, 50*time.Millisecond)
			assert.Error(t, err)

			// nothing is stuck: the version can still be deprecated
			_, err = h.c.Deprecate(ctx, v2, DeprecateRequest{
				Reason:     "retired",
				SunsetDate: t0.Add(24 * time.Hour),
			})
			assert.NoError(t, err)
		})
	}
}

func TestRollback_TargetReactivationFailureDisablesTarget(t *testing.T) {
	storeErr := errors.New("store unavailable")
	h := newHarness(t, withFailingCommit(schema.TriggerReactivate, storeErr))
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)
	require.True(t, h.router.Enabled(v1))

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, StepActivateTarget, rbErr.Step)
	assert.Equal(t, []RollbackStep{StepNotify, StepDisableCurrent}, plan.Completed)

	assert.False(t, h.router.Enabled(v1))
	assert.True(t, h.router.Enabled(v2))
	assert.Equal(t, schema.StateDeprecated, h.state(t, v1))
	assert.Equal(t, schema.StateActive, h.state(t, v2))
	_, routed := h.router.Current(orders)
	assert.False(t, routed)
}

func TestRollback_Degraded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v1, v2 := setupRollback(t, h, orderWithLocale)
	h.router.SetHealth(v1, HealthDegraded)

	plan, err := h.c.Rollback(ctx, rollbackRequest(v2, v1))
	require.NoError(t, err)
	assert.Equal(t, RollbackPartial, plan.Outcome)

	from, err := h.c.Lifecycle(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, schema.StateDeprecated, from.CurrentState)
	assert.Equal(t, schema.TriggerRollbackPartial, from.Last().Trigger)
	require.NotNil(t, from.Deprecation)
	assert.Equal(t, t0.Add(DefaultRollbackGracePeriod), from.Deprecation.SunsetDate)
	require.NotNil(t, from.Deprecation.Replacement)
	assert.Equal(t, v1, *from.Deprecation.Replacement)

	due, err := h.store.ListDue(ctx, t0.Add(DefaultRollbackGracePeriod))
	require.NoError(t, err)
	assert.Equal(t, []schema.Ref{v2}, due)
}

func TestRollbackError_Message(t *testing.T) {
	err := &RollbackError{Err: ErrIncompatible}
	assert.Equal(t, "rollback refused: schema is incompatible", err.Error())

	err = &RollbackError{Step: StepVerify, Err: errors.New("timeout")}
	assert.Equal(t, "rollback failed at verify: timeout", err.Error())
}
