package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lineage/pkg/async"
	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/events"
	"github.com/platinummonkey/lineage/pkg/lock"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
	"github.com/platinummonkey/lineage/pkg/validation"
	"github.com/platinummonkey/lineage/pkg/validation/rules"
)

const (
	DefaultLockTimeout         = 5 * time.Second
	DefaultSunsetRetryInterval = time.Hour
	DefaultRollbackGracePeriod = 7 * 24 * time.Hour
	DefaultEventTimeout        = 30 * time.Second
)

// Deps are the collaborators of a Coordinator. Only Store is required; every
// other field has an in-process default.
type Deps struct {
	Store      storage.Store
	Sink       events.Sink
	Clock      Clock
	Identity   Identity
	Locker     lock.Locker
	Consumers  ConsumerRegistry
	Router     Router
	Validator  *validation.Validator
	Checker    *compatibility.Checker
	Normalizer *schema.Normalizer
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     trace.Tracer
}

// Options tune a Coordinator. Zero values take the defaults.
type Options struct {
	// LockTimeout bounds how long an operation waits for a version lock
	// before failing with ErrBusy.
	LockTimeout time.Duration
	// DefaultMode applies to registrations that name no compatibility mode
	DefaultMode string
	// SunsetRetryInterval is how far a sunset blocked by consumers is deferred
	SunsetRetryInterval time.Duration
	// RollbackGracePeriod is the sunset window given to a version left
	// deprecated by a degraded rollback.
	RollbackGracePeriod time.Duration
	// EventTimeout bounds a single event delivery
	EventTimeout time.Duration
}

// Coordinator sequences normalization, validation and compatibility checks
// for every mutating request and owns all lifecycle transitions.
type Coordinator struct {
	store       storage.Store
	sink        events.Sink
	clock       Clock
	identity    Identity
	locker      lock.Locker
	consumers   ConsumerRegistry
	router      Router
	validator   *validation.Validator
	checker     *compatibility.Checker
	normalizer  *schema.Normalizer
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	opts        Options
	defaultMode compatibility.Mode
}

// New creates a coordinator
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	c := &Coordinator{
		store:      deps.Store,
		sink:       deps.Sink,
		clock:      deps.Clock,
		identity:   deps.Identity,
		locker:     deps.Locker,
		consumers:  deps.Consumers,
		router:     deps.Router,
		validator:  deps.Validator,
		checker:    deps.Checker,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		opts:       opts,
	}
	if c.logger == nil {
		c.logger = observability.NewNopLogger()
	}
	if c.sink == nil {
		c.sink = events.Discard
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.identity == nil {
		c.identity = ContextIdentity{}
	}
	if c.locker == nil {
		c.locker = lock.NewKeyedMutex(c.metrics)
	}
	if c.consumers == nil {
		c.consumers = NewMemoryConsumers()
	}
	if c.router == nil {
		c.router = NewMemoryRouter()
	}
	if c.normalizer == nil {
		c.normalizer = schema.NewNormalizer(nil)
	}
	if c.validator == nil {
		c.validator = validation.NewValidator(rules.NewDefaultRegistry(),
			validation.WithLogger(c.logger),
			validation.WithMetrics(c.metrics),
			validation.WithNormalizer(c.normalizer),
		)
	}
	if c.checker == nil {
		c.checker = compatibility.NewChecker(
			compatibility.WithCheckerLogger(c.logger),
			compatibility.WithCheckerMetrics(c.metrics),
		)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(observability.TracerName)
	}

	if c.opts.LockTimeout <= 0 {
		c.opts.LockTimeout = DefaultLockTimeout
	}
	if c.opts.SunsetRetryInterval <= 0 {
		c.opts.SunsetRetryInterval = DefaultSunsetRetryInterval
	}
	if c.opts.RollbackGracePeriod <= 0 {
		c.opts.RollbackGracePeriod = DefaultRollbackGracePeriod
	}
	if c.opts.EventTimeout <= 0 {
		c.opts.EventTimeout = DefaultEventTimeout
	}
	c.defaultMode = compatibility.DefaultMode
	if c.opts.DefaultMode != "" {
		mode, err := compatibility.ParseMode(c.opts.DefaultMode)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: %w", err)
		}
		c.defaultMode = mode
	}
	return c, nil
}

// RegisteredSchema is a stored version together with the reports that
// admitted it. Validation and Compatibility are only set by the call that
// ran them.
type RegisteredSchema struct {
	Schema        *schema.Schema        `json:"schema"`
	State         schema.State          `json:"state"`
	Validation    *validation.Report    `json:"validation,omitempty"`
	Compatibility *compatibility.Result `json:"compatibility,omitempty"`
	Deduplicated  bool                  `json:"deduplicated"`
}

// VersionInfo is one entry of a subject's version list
type VersionInfo struct {
	Version schema.SemanticVersion `json:"version"`
	State   schema.State           `json:"state"`
}

// DeprecateRequest describes a deprecation
type DeprecateRequest struct {
	Reason         string      `json:"reason"`
	SunsetDate     time.Time   `json:"sunset_date"`
	MigrationGuide string      `json:"migration_guide,omitempty"`
	Replacement    *schema.Ref `json:"replacement,omitempty"`
}

// SunsetResult reports what a sunset attempt did. A deferred sunset should
// be retried at RetryAt.
type SunsetResult struct {
	Ref       schema.Ref   `json:"ref"`
	State     schema.State `json:"state"`
	Archived  bool         `json:"archived"`
	Deferred  bool         `json:"deferred"`
	RetryAt   time.Time    `json:"retry_at,omitempty"`
	Consumers []string     `json:"consumers,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

func subjectLockKey(subject schema.Subject) string {
	return subject.Namespace + ":" + subject.Name + ":*"
}

func (c *Coordinator) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attrs...))
}

// acquire takes the locks for keys in order and returns the function that
// releases them in reverse order.
func (c *Coordinator) acquire(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]lock.Unlock, 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			if err := unlocks[i](); err != nil {
				c.logger.WithError(err).Warn("Failed to release lock")
			}
		}
	}
	for _, key := range keys {
		unlock, err := c.locker.Lock(ctx, key, c.opts.LockTimeout)
		if err != nil {
			release()
			if errors.Is(err, lock.ErrTimeout) {
				return nil, fmt.Errorf("%w: %s: %w", ErrBusy, key, err)
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// load reads the lifecycle of ref and checks it is in one of expected
func (c *Coordinator) load(ctx context.Context, ref schema.Ref, expected ...schema.State) (*schema.Lifecycle, error) {
	lc, err := c.store.GetLifecycle(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load lifecycle %s: %w", ref, err)
	}
	if len(expected) > 0 && !oneOf(lc.CurrentState, expected) {
		return nil, stateError(ref, lc.CurrentState, expected...)
	}
	return lc, nil
}

func oneOf(s schema.State, states []schema.State) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}
	return false
}

// change is one transition to commit
type change struct {
	to               schema.State
	trigger          schema.Trigger
	reason           string
	deprecation      *schema.DeprecationInfo
	clearDeprecation bool
	metadata         map[string]string
}

// commit appends ch to lc. The caller holds the version lock.
func (c *Coordinator) commit(ctx context.Context, lc *schema.Lifecycle, actor string, ch change) (*schema.Lifecycle, error) {
	from := lc.CurrentState
	if !from.CanTransitionTo(ch.to) {
		return nil, fmt.Errorf("transition %s -> %s is not allowed for %s", from, ch.to, lc.Ref)
	}

	now := c.clock.Now()
	if last := lc.Last().Timestamp; now.Before(last) {
		now = last
	}
	if ch.deprecation != nil && ch.deprecation.DeprecatedAt.IsZero() {
		ch.deprecation.DeprecatedAt = now
	}

	updated, err := c.store.CommitTransition(ctx, lc.Ref, from, storage.Transition{
		Record: schema.TransitionRecord{
			From:      from,
			To:        ch.to,
			Trigger:   ch.trigger,
			Timestamp: now,
			Actor:     actor,
			Reason:    ch.reason,
		},
		Deprecation:      ch.deprecation,
		ClearDeprecation: ch.clearDeprecation,
		Metadata:         ch.metadata,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			if current, gerr := c.store.GetLifecycle(ctx, lc.Ref); gerr == nil {
				return nil, stateError(lc.Ref, current.CurrentState, from)
			}
		}
		return nil, fmt.Errorf("failed to commit %s -> %s for %s: %w", from, ch.to, lc.Ref, err)
	}

	c.metrics.RecordTransition(string(from), string(ch.to), string(ch.trigger))
	c.logger.WithFields(map[string]interface{}{
		"ref":     lc.Ref.String(),
		"from":    string(from),
		"to":      string(ch.to),
		"trigger": string(ch.trigger),
		"actor":   actor,
	}).Debug("Committed transition")
	return updated, nil
}

// transition runs one guarded transition on ref: lock, load, check the
// expected state, commit, unlock. build may refuse the transition.
func (c *Coordinator) transition(ctx context.Context, ref schema.Ref, actor string, expected []schema.State,
	build func(lc *schema.Lifecycle) (change, error)) (*schema.Lifecycle, schema.State, error) {

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, "", err
	}
	defer release()

	lc, err := c.load(ctx, ref, expected...)
	if err != nil {
		return nil, "", err
	}
	ch, err := build(lc)
	if err != nil {
		return nil, "", err
	}
	from := lc.CurrentState
	updated, err := c.commit(ctx, lc, actor, ch)
	if err != nil {
		return nil, "", err
	}
	return updated, from, nil
}

// emit delivers events in the background; sink failures are logged and
// never reach the caller.
func (c *Coordinator) emit(ctx context.Context, evs ...events.DomainEvent) {
	if len(evs) == 0 {
		return
	}
	async.SafeGo(ctx, c.logger, c.opts.EventTimeout, "emit lifecycle events", func(ctx context.Context) error {
		var errs []error
		for _, ev := range evs {
			err := c.sink.Emit(ctx, ev)
			c.metrics.RecordEvent(string(ev.Type), "coordinator", err)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", ev.Type, ev.Ref, err))
			}
		}
		return errors.Join(errs...)
	})
}

func event(t events.EventType, lc *schema.Lifecycle, from schema.State, actor string) events.DomainEvent {
	return events.NewEvent(t, lc.Ref, actor, lc.UpdatedAt).WithTransition(from, lc.CurrentState)
}

// Activate moves a registered version to ACTIVE
func (c *Coordinator) Activate(ctx context.Context, ref schema.Ref) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "Activate", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	actor := c.identity.Actor(ctx)
	lc, from, err := c.transition(ctx, ref, actor, []schema.State{schema.StateRegistered},
		func(*schema.Lifecycle) (change, error) {
			return change{to: schema.StateActive, trigger: schema.TriggerActivate}, nil
		})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, event(events.EventActivated, lc, from, actor))
	return lc, nil
}

// Deprecate moves an active version to DEPRECATED with a sunset date
func (c *Coordinator) Deprecate(ctx context.Context, ref schema.Ref, req DeprecateRequest) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "Deprecate", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	if strings.TrimSpace(req.Reason) == "" {
		return nil, deprecationError(ref, "a reason is required")
	}
	if now := c.clock.Now(); !req.SunsetDate.After(now) {
		return nil, deprecationError(ref, "sunset date %s is not after %s", req.SunsetDate.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if req.Replacement != nil {
		if *req.Replacement == ref {
			return nil, deprecationError(ref, "a version cannot replace itself")
		}
		repl, err := c.store.GetLifecycle(ctx, *req.Replacement)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, deprecationError(ref, "replacement %s does not exist", req.Replacement)
			}
			return nil, fmt.Errorf("failed to load replacement %s: %w", req.Replacement, err)
		}
		if !repl.CurrentState.IsRegistered() || repl.CurrentState == schema.StateArchived {
			return nil, deprecationError(ref, "replacement %s is %s", req.Replacement, repl.CurrentState)
		}
	}

	actor := c.identity.Actor(ctx)
	lc, from, err := c.transition(ctx, ref, actor, []schema.State{schema.StateActive},
		func(*schema.Lifecycle) (change, error) {
			dep := &schema.DeprecationInfo{
				Reason:         req.Reason,
				DeprecatedBy:   actor,
				SunsetDate:     req.SunsetDate.UTC(),
				MigrationGuide: req.MigrationGuide,
			}
			if req.Replacement != nil {
				repl := *req.Replacement
				dep.Replacement = &repl
			}
			return change{
				to:          schema.StateDeprecated,
				trigger:     schema.TriggerDeprecate,
				reason:      req.Reason,
				deprecation: dep,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	ev := event(events.EventDeprecated, lc, from, actor).
		WithData("reason", req.Reason).
		WithData("sunset_date", lc.Deprecation.SunsetDate)
	if req.Replacement != nil {
		ev = ev.WithData("replacement", req.Replacement.String())
	}
	c.emit(ctx, ev)
	return lc, nil
}

// Reactivate returns a deprecated version to ACTIVE and clears its
// deprecation.
func (c *Coordinator) Reactivate(ctx context.Context, ref schema.Ref) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "Reactivate", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	actor := c.identity.Actor(ctx)
	lc, from, err := c.transition(ctx, ref, actor, []schema.State{schema.StateDeprecated},
		func(*schema.Lifecycle) (change, error) {
			return change{to: schema.StateActive, trigger: schema.TriggerReactivate, clearDeprecation: true}, nil
		})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, event(events.EventReactivated, lc, from, actor))
	return lc, nil
}

// Archive retires a deprecated version nobody consumes any more
func (c *Coordinator) Archive(ctx context.Context, ref schema.Ref) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "Archive", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	actor := c.identity.Actor(ctx)
	lc, from, err := c.transition(ctx, ref, actor, []schema.State{schema.StateDeprecated},
		func(*schema.Lifecycle) (change, error) {
			consumers, err := c.consumers.ActiveConsumers(ctx, ref)
			if err != nil {
				return change{}, fmt.Errorf("failed to list consumers of %s: %w", ref, err)
			}
			if len(consumers) > 0 {
				return change{}, fmt.Errorf("%w: %s is used by %s", ErrActiveConsumers, ref, strings.Join(consumers, ", "))
			}
			return change{to: schema.StateArchived, trigger: schema.TriggerArchive}, nil
		})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, event(events.EventArchived, lc, from, actor))
	return lc, nil
}

// Sunset archives a deprecated version once its sunset date has passed and
// no consumer remains. It is safe to call repeatedly: an archived version is
// left alone, and a version that cannot be archived yet is reported as
// deferred with the time to retry.
func (c *Coordinator) Sunset(ctx context.Context, ref schema.Ref) (result *SunsetResult, err error) {
	ctx, span := c.startSpan(ctx, "Sunset", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	actor := c.identity.Actor(ctx)
	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, err
	}
	lc, err := c.load(ctx, ref, schema.StateDeprecated, schema.StateArchived)
	if err != nil {
		release()
		return nil, err
	}

	result = &SunsetResult{Ref: ref, State: lc.CurrentState}
	if lc.CurrentState == schema.StateArchived {
		release()
		return result, nil
	}

	now := c.clock.Now()
	if !lc.Deprecation.Due(now) {
		release()
		result.Deferred = true
		result.Reason = "sunset date not reached"
		result.RetryAt = now.Add(c.opts.SunsetRetryInterval)
		if lc.Deprecation != nil {
			result.RetryAt = lc.Deprecation.SunsetDate
		}
		return result, nil
	}

	consumers, err := c.consumers.ActiveConsumers(ctx, ref)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to list consumers of %s: %w", ref, err)
	}
	if len(consumers) > 0 {
		release()
		result.Deferred = true
		result.Reason = "active consumers"
		result.Consumers = consumers
		result.RetryAt = now.Add(c.opts.SunsetRetryInterval)
		c.logger.WithFields(map[string]interface{}{
			"ref":       ref.String(),
			"consumers": len(consumers),
			"retry_at":  result.RetryAt,
		}).Info("Sunset deferred")
		return result, nil
	}

	updated, err := c.commit(ctx, lc, actor, change{
		to:      schema.StateArchived,
		trigger: schema.TriggerArchive,
		reason:  "sunset date reached",
	})
	release()
	if err != nil {
		return nil, err
	}

	result.State = updated.CurrentState
	result.Archived = true
	c.emit(ctx, event(events.EventArchived, updated, lc.CurrentState, actor).WithData("sunset", true))
	return result, nil
}

// Abandon drops a version that never became active
func (c *Coordinator) Abandon(ctx context.Context, ref schema.Ref, reason string) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "Abandon", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	actor := c.identity.Actor(ctx)
	lc, from, err := c.transition(ctx, ref, actor,
		[]schema.State{schema.StateDraft, schema.StateValidationFailed, schema.StateIncompatibleRejected, schema.StateRegistered},
		func(*schema.Lifecycle) (change, error) {
			return change{to: schema.StateAbandoned, trigger: schema.TriggerAbandon, reason: reason}, nil
		})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, event(events.EventAbandoned, lc, from, actor).WithData("reason", reason))
	return lc, nil
}

// UpdateMetadata records a metadata revision on an active version. Empty
// values delete keys. The schema itself is never rewritten.
func (c *Coordinator) UpdateMetadata(ctx context.Context, ref schema.Ref, metadata map[string]string) (lc *schema.Lifecycle, err error) {
	ctx, span := c.startSpan(ctx, "UpdateMetadata", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	if len(metadata) == 0 {
		return nil, fmt.Errorf("%w: metadata update is empty", ErrInvalidRequest)
	}
	actor := c.identity.Actor(ctx)
	lc, _, err = c.transition(ctx, ref, actor, []schema.State{schema.StateActive},
		func(*schema.Lifecycle) (change, error) {
			md := make(map[string]string, len(metadata))
			for k, v := range metadata {
				md[k] = v
			}
			return change{to: schema.StateActive, trigger: schema.TriggerUpdateMetadata, metadata: md}, nil
		})
	return lc, err
}

// Lifecycle returns the lifecycle of ref
func (c *Coordinator) Lifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error) {
	return c.load(ctx, ref)
}

// Get returns the stored version and its current state
func (c *Coordinator) Get(ctx context.Context, ref schema.Ref) (*RegisteredSchema, error) {
	sc, err := c.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema %s: %w", ref, err)
	}
	lc, err := c.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &RegisteredSchema{Schema: sc, State: lc.CurrentState}, nil
}

// Versions lists every version of subject with its state, oldest first
func (c *Coordinator) Versions(ctx context.Context, subject schema.Subject) ([]VersionInfo, error) {
	entries, err := c.history(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := make([]VersionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, VersionInfo{Version: e.lc.Ref.Version, State: e.lc.CurrentState})
	}
	return out, nil
}

// DefaultMode is the compatibility mode applied when a request names none
func (c *Coordinator) DefaultMode() compatibility.Mode {
	return c.defaultMode
}

// entry is one stored version of a subject
type entry struct {
	lc *schema.Lifecycle
}

// history loads the lifecycle of every version of subject, oldest first.
// Versions whose lifecycle is missing were never fully written and are
// skipped.
func (c *Coordinator) history(ctx context.Context, subject schema.Subject) ([]entry, error) {
	versions, err := c.store.ListVersions(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", subject, err)
	}
	out := make([]entry, 0, len(versions))
	for _, v := range versions {
		lc, err := c.store.GetLifecycle(ctx, subject.Version(v))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.logger.WithField("ref", subject.Version(v).String()).Warn("Skipping version without lifecycle")
				continue
			}
			return nil, fmt.Errorf("failed to load lifecycle %s: %w", subject.Version(v), err)
		}
		out = append(out, entry{lc: lc})
	}
	return out, nil
}

// find returns the entry for version v
func find(entries []entry, v schema.SemanticVersion) *entry {
	for i := range entries {
		if entries[i].lc.Ref.Version.Compare(v) == 0 {
			return &entries[i]
		}
	}
	return nil
}

// registered filters entries to the versions that belong to the subject's
// compatibility history, optionally only those below before.
func registered(entries []entry, before *schema.SemanticVersion) []entry {
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		if !e.lc.CurrentState.IsRegistered() {
			continue
		}
		if before != nil && !e.lc.Ref.Version.Less(*before) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// candidates normalizes the stored content of the registered entries the
// mode will check. Non-transitive modes only need the latest.
func (c *Coordinator) candidates(ctx context.Context, entries []entry, mode compatibility.Mode) ([]compatibility.Candidate, error) {
	if len(entries) == 0 || mode == compatibility.ModeNone {
		return nil, nil
	}
	if !mode.IsTransitive() {
		entries = entries[len(entries)-1:]
	}
	out := make([]compatibility.Candidate, 0, len(entries))
	for _, e := range entries {
		ns, err := c.normalized(ctx, e.lc.Ref)
		if err != nil {
			return nil, err
		}
		out = append(out, compatibility.Candidate{Version: e.lc.Ref.Version, Schema: ns})
	}
	return out, nil
}

func (c *Coordinator) normalized(ctx context.Context, ref schema.Ref) (*schema.NormalizedSchema, error) {
	sc, err := c.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema %s: %w", ref, err)
	}
	return c.normalizer.FromSchema(sc)
}
