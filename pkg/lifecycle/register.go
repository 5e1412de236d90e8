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
	"github.com/platinummonkey/lineage/pkg/storage"
	"github.com/platinummonkey/lineage/pkg/validation"
)

// Register runs a new schema through the registration pipeline: normalize,
// deduplicate, assign a version, persist as DRAFT, validate, check
// compatibility and, when requested, activate. The subject lock is held
// from version assignment until the last transition commits.
//
// Rejections return a *RegistrationError whose IsRejection is true; the
// version is then stored in VALIDATION_FAILED or INCOMPATIBLE_REJECTED.
func (c *Coordinator) Register(ctx context.Context, in schema.SchemaInput) (rs *RegisteredSchema, err error) {
	subject := in.Subject()
	ctx, span := c.startSpan(ctx, "Register",
		attribute.String("schema.subject", subject.String()),
		attribute.String("schema.format", in.Format.String()),
	)
	defer func() {
		observability.EndSpan(span, err)
		c.metrics.RecordRegistration(in.Format.String(), registrationOutcome(rs, err))
	}()

	base := schema.Ref{Namespace: in.Namespace, Name: in.Name}
	if err := subject.Validate(); err != nil {
		return nil, &RegistrationError{Stage: StageParse, Ref: base, Err: err}
	}
	if !in.Format.Valid() {
		return nil, &RegistrationError{Stage: StageParse, Ref: base, Err: fmt.Errorf("unknown schema format %d", int(in.Format))}
	}
	mode := c.defaultMode
	if in.CompatibilityMode != "" {
		if mode, err = compatibility.ParseMode(in.CompatibilityMode); err != nil {
			return nil, &RegistrationError{Stage: StageParse, Ref: base, Err: err}
		}
	}
	ns, err := c.normalizer.Normalize([]byte(in.Content), in.Format)
	if err != nil {
		return nil, &RegistrationError{Stage: StageParse, Ref: base, Err: err}
	}

	release, err := c.acquire(ctx, subjectLockKey(subject))
	if err != nil {
		return nil, err
	}
	rs, evs, err := c.register(ctx, in, ns, mode)
	release()
	c.emit(ctx, evs...)
	return rs, err
}

func (c *Coordinator) register(ctx context.Context, in schema.SchemaInput, ns *schema.NormalizedSchema,
	mode compatibility.Mode) (*RegisteredSchema, []events.DomainEvent, error) {

	subject := in.Subject()
	base := schema.Ref{Namespace: in.Namespace, Name: in.Name}
	actor := c.identity.Actor(ctx)

	entries, err := c.history(ctx, subject)
	if err != nil {
		return nil, nil, err
	}
	prior := registered(entries, nil)

	if rs, err := c.deduplicate(ctx, subject, ns.Fingerprint, entries); rs != nil || err != nil {
		return rs, nil, err
	}

	if err := c.checkReferences(ctx, in.References); err != nil {
		return nil, nil, &RegistrationError{Stage: StageValidation, Ref: base, Err: err}
	}

	// Version assignment diffs against the latest registered version.
	var (
		latest *schema.SemanticVersion
		diff   *compatibility.Diff
	)
	if len(prior) > 0 {
		v := prior[len(prior)-1].lc.Ref.Version
		latest = &v
		latestNS, err := c.normalized(ctx, subject.Version(v))
		if err != nil {
			return nil, nil, err
		}
		diff = compatibility.ComputeDiff(ns, latestNS)
	}
	version, err := compatibility.ResolveVersion(latest, in.Version, diff)
	if err != nil {
		return nil, nil, &RegistrationError{Stage: StageVersion, Ref: base, Err: err}
	}

	// A pending draft at the chosen version is reused; any other occupant
	// pushes a derived version to the next free patch.
	var reuse *entry
	for {
		e := find(entries, version)
		if e == nil {
			break
		}
		if e.lc.CurrentState.IsPending() {
			reuse = e
			break
		}
		if in.Version != nil {
			return nil, nil, &RegistrationError{
				Stage: StageVersion,
				Ref:   subject.Version(version),
				Err:   fmt.Errorf("%w: version %s is %s", storage.ErrAlreadyExists, version, e.lc.CurrentState),
			}
		}
		version = version.BumpPatch()
	}
	ref := subject.Version(version)

	report, result, err := c.evaluate(ctx, ns, in.References, in.Examples, prior, mode)
	if err != nil {
		return nil, nil, &RegistrationError{Stage: StageCompatibility, Ref: ref, Report: report, Err: err}
	}

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, nil, err
	}
	defer release()

	now := c.clock.Now()
	sc := &schema.Schema{
		Ref:               ref,
		Format:            in.Format,
		Content:           []byte(in.Content),
		Canonical:         ns.Canonical,
		Fingerprint:       ns.Fingerprint,
		Description:       in.Description,
		CompatibilityMode: mode.String(),
		Metadata:          in.Metadata,
		Tags:              in.Tags,
		Examples:          in.Examples,
		References:        in.References,
		CreatedAt:         now,
		CreatedBy:         actor,
	}

	var lc *schema.Lifecycle
	if reuse != nil {
		lc, err = c.reopen(ctx, ref, actor, sc)
		if err != nil {
			return nil, nil, err
		}
	} else {
		if err := c.store.Put(ctx, sc); err != nil {
			return nil, nil, &RegistrationError{Stage: StagePersist, Ref: ref, Err: err}
		}
		lc = schema.NewLifecycle(ref, now, actor)
		if err := c.store.CreateLifecycle(ctx, lc); err != nil {
			return nil, nil, &RegistrationError{Stage: StagePersist, Ref: ref, Err: err}
		}
	}

	return c.advance(ctx, sc, lc, report, result, in.AutoActivate, actor)
}

// Resubmit replaces the content of a rejected version and runs it through
// validation and compatibility again. Only versions registered before ref
// take part in the compatibility check.
func (c *Coordinator) Resubmit(ctx context.Context, ref schema.Ref, raw []byte) (rs *RegisteredSchema, err error) {
	ctx, span := c.startSpan(ctx, "Resubmit", attribute.String("schema.ref", ref.String()))
	defer func() { observability.EndSpan(span, err) }()

	current, err := c.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema %s: %w", ref, err)
	}
	ns, err := c.normalizer.Normalize(raw, current.Format)
	if err != nil {
		return nil, &RegistrationError{Stage: StageParse, Ref: ref, Err: err}
	}
	mode := c.defaultMode
	if current.CompatibilityMode != "" {
		if mode, err = compatibility.ParseMode(current.CompatibilityMode); err != nil {
			return nil, &RegistrationError{Stage: StageParse, Ref: ref, Err: err}
		}
	}

	release, err := c.acquire(ctx, subjectLockKey(ref.Subject()))
	if err != nil {
		return nil, err
	}
	rs, evs, err := c.resubmit(ctx, current, raw, ns, mode)
	release()
	c.emit(ctx, evs...)
	return rs, err
}

func (c *Coordinator) resubmit(ctx context.Context, current *schema.Schema, raw []byte, ns *schema.NormalizedSchema,
	mode compatibility.Mode) (*RegisteredSchema, []events.DomainEvent, error) {

	ref := current.Ref
	actor := c.identity.Actor(ctx)

	entries, err := c.history(ctx, ref.Subject())
	if err != nil {
		return nil, nil, err
	}
	prior := registered(entries, &ref.Version)

	report, result, err := c.evaluate(ctx, ns, current.References, current.Examples, prior, mode)
	if err != nil {
		return nil, nil, &RegistrationError{Stage: StageCompatibility, Ref: ref, Report: report, Err: err}
	}

	release, err := c.acquire(ctx, ref.Key())
	if err != nil {
		return nil, nil, err
	}
	defer release()

	sc := current.Clone()
	sc.Content = append([]byte(nil), raw...)
	sc.Canonical = ns.Canonical
	sc.Fingerprint = ns.Fingerprint
	lc, err := c.reopen(ctx, ref, actor, sc)
	if err != nil {
		return nil, nil, err
	}
	return c.advance(ctx, sc, lc, report, result, false, actor)
}

// reopen returns a pending version to DRAFT and swaps in sc. The caller
// holds the version lock.
func (c *Coordinator) reopen(ctx context.Context, ref schema.Ref, actor string, sc *schema.Schema) (*schema.Lifecycle, error) {
	lc, err := c.load(ctx, ref, schema.StateDraft, schema.StateValidationFailed, schema.StateIncompatibleRejected)
	if err != nil {
		return nil, err
	}
	if lc.CurrentState != schema.StateDraft {
		lc, err = c.commit(ctx, lc, actor, change{
			to:      schema.StateDraft,
			trigger: schema.TriggerResubmit,
			reason:  "content resubmitted",
		})
		if err != nil {
			return nil, err
		}
	}
	if err := c.store.ReplaceDraft(ctx, sc); err != nil {
		return nil, &RegistrationError{Stage: StagePersist, Ref: ref, Err: err}
	}
	return lc, nil
}

// evaluate validates ns and, when valid, checks it against prior. Both are
// pure, so they run before anything is persisted.
func (c *Coordinator) evaluate(ctx context.Context, ns *schema.NormalizedSchema, refs []schema.Ref, examples []string,
	prior []entry, mode compatibility.Mode) (*validation.Report, *compatibility.Result, error) {

	report := c.validator.Validate(ctx, ns, validation.Options{
		References: referenceNames(refs),
		Examples:   examples,
	})
	if !report.Valid {
		return report, nil, nil
	}
	candidates, err := c.candidates(ctx, prior, mode)
	if err != nil {
		return report, nil, err
	}
	result, err := c.checker.Check(ctx, ns, candidates, mode)
	if err != nil {
		return report, nil, err
	}
	return report, result, nil
}

// advance drives a DRAFT version through the remaining gates using the
// precomputed report and result. The caller holds the version lock.
func (c *Coordinator) advance(ctx context.Context, sc *schema.Schema, lc *schema.Lifecycle, report *validation.Report,
	result *compatibility.Result, activate bool, actor string) (*RegisteredSchema, []events.DomainEvent, error) {

	ref := sc.Ref
	var evs []events.DomainEvent
	step := func(ch change) error {
		var err error
		lc, err = c.commit(ctx, lc, actor, ch)
		if err != nil {
			return &RegistrationError{Stage: StagePersist, Ref: ref, Report: report, Result: result, Err: err}
		}
		return nil
	}

	if err := step(change{to: schema.StateValidating, trigger: schema.TriggerSubmit}); err != nil {
		return nil, evs, err
	}
	if !report.Valid {
		if err := step(change{
			to:      schema.StateValidationFailed,
			trigger: schema.TriggerValidationFailed,
			reason:  report.Summary(),
		}); err != nil {
			return nil, evs, err
		}
		evs = append(evs, event(events.EventValidationFailed, lc, schema.StateValidating, actor).
			WithData("errors", len(report.Errors)).
			WithData("summary", report.Summary()))
		return nil, evs, &RegistrationError{Stage: StageValidation, Ref: ref, Report: report, Err: ErrValidationFailed}
	}

	if err := step(change{to: schema.StateCompatibilityCheck, trigger: schema.TriggerValidationPassed}); err != nil {
		return nil, evs, err
	}
	if !result.Compatible {
		breaking := result.Breaking()
		if err := step(change{
			to:      schema.StateIncompatibleRejected,
			trigger: schema.TriggerCompatibilityFailed,
			reason:  fmt.Sprintf("%d breaking change(s) under %s", len(breaking), result.Mode),
		}); err != nil {
			return nil, evs, err
		}
		evs = append(evs, event(events.EventCompatibilityRejected, lc, schema.StateCompatibilityCheck, actor).
			WithData("mode", result.Mode.String()).
			WithData("breaking", len(breaking)))
		return nil, evs, &RegistrationError{Stage: StageCompatibility, Ref: ref, Report: report, Result: result, Err: ErrIncompatible}
	}

	if err := step(change{to: schema.StateRegistered, trigger: schema.TriggerCompatibilityPassed}); err != nil {
		return nil, evs, err
	}
	evs = append(evs, event(events.EventRegistered, lc, schema.StateCompatibilityCheck, actor).
		WithData("fingerprint", sc.Fingerprint).
		WithData("mode", result.Mode.String()))

	if activate {
		if err := step(change{to: schema.StateActive, trigger: schema.TriggerActivate}); err != nil {
			return nil, evs, err
		}
		evs = append(evs, event(events.EventActivated, lc, schema.StateRegistered, actor))
	}

	c.logger.WithFields(map[string]interface{}{
		"ref":      ref.String(),
		"state":    string(lc.CurrentState),
		"warnings": len(report.Warnings),
	}).Info("Schema registered")

	return &RegisteredSchema{
		Schema:        sc,
		State:         lc.CurrentState,
		Validation:    report,
		Compatibility: result,
	}, evs, nil
}

// deduplicate returns the registered version of subject whose content has
// fingerprint, if any.
func (c *Coordinator) deduplicate(ctx context.Context, subject schema.Subject, fingerprint string, entries []entry) (*RegisteredSchema, error) {
	matches, err := c.store.GetByFingerprint(ctx, subject, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	for _, sc := range matches {
		e := find(entries, sc.Ref.Version)
		if e == nil || !e.lc.CurrentState.IsRegistered() {
			continue
		}
		c.logger.WithField("ref", sc.Ref.String()).Debug("Registration deduplicated")
		return &RegisteredSchema{Schema: sc, State: e.lc.CurrentState, Deduplicated: true}, nil
	}
	return nil, nil
}

// checkReferences requires every declared dependency to be stored
func (c *Coordinator) checkReferences(ctx context.Context, refs []schema.Ref) error {
	for _, ref := range refs {
		if _, err := c.store.Get(ctx, ref); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("referenced schema %s: %w", ref, storage.ErrNotFound)
			}
			return fmt.Errorf("failed to resolve reference %s: %w", ref, err)
		}
	}
	return nil
}

// referenceNames lists the names a declared reference satisfies
func referenceNames(refs []schema.Ref) []string {
	out := make([]string, 0, len(refs)*2)
	for _, r := range refs {
		out = append(out, r.Name, r.Namespace+"."+r.Name)
	}
	return out
}

// ValidateStructure runs the validator over raw content without touching
// storage. Parse failures are reported as a PARSE_ERROR finding.
func (c *Coordinator) ValidateStructure(ctx context.Context, raw []byte, format schema.Format) (report *validation.Report, err error) {
	ctx, span := c.startSpan(ctx, "ValidateStructure", attribute.String("schema.format", format.String()))
	defer func() { observability.EndSpan(span, err) }()

	if !format.Valid() {
		return nil, fmt.Errorf("unknown schema format %d", int(format))
	}
	report, _ = c.validator.ValidateRaw(ctx, raw, format, validation.Options{})
	return report, nil
}

// CheckCompatibility checks raw content against the registered versions of
// subject without registering it.
func (c *Coordinator) CheckCompatibility(ctx context.Context, raw []byte, format schema.Format, subject schema.Subject,
	mode compatibility.Mode) (result *compatibility.Result, err error) {

	ctx, span := c.startSpan(ctx, "CheckCompatibility",
		attribute.String("schema.subject", subject.String()),
		attribute.String("compatibility.mode", mode.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	ns, err := c.normalizer.Normalize(raw, format)
	if err != nil {
		return nil, err
	}
	entries, err := c.history(ctx, subject)
	if err != nil {
		return nil, err
	}
	candidates, err := c.candidates(ctx, registered(entries, nil), mode)
	if err != nil {
		return nil, err
	}
	return c.checker.Check(ctx, ns, candidates, mode)
}

func registrationOutcome(rs *RegisteredSchema, err error) string {
	var regErr *RegistrationError
	switch {
	case err == nil && rs != nil && rs.Deduplicated:
		return "deduplicated"
	case err == nil:
		return "registered"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrIncompatible):
		return "incompatible"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &regErr) && regErr.Stage == StageParse:
		return "parse_error"
	}
	return "error"
}
