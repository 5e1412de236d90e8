package compatibility

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
)

const (
	DefaultCacheSize             = 10000
	DefaultCacheTTL              = time.Hour
	DefaultMaxTransitiveVersions = 100
	defaultConcurrency           = 8
)

// Candidate is a prior version a new schema is checked against
type Candidate struct {
	Version schema.SemanticVersion
	Schema  *schema.NormalizedSchema
}

// Result contains the results of a compatibility check
type Result struct {
	Compatible      bool                     `json:"compatible"`
	Mode            Mode                     `json:"mode"`
	Violations      []Violation              `json:"violations"`
	CheckedVersions []schema.SemanticVersion `json:"checked_versions"`
	Summary         Summary                  `json:"summary"`
	Duration        time.Duration            `json:"duration"`
}

// Breaking returns only the breaking violations
func (r *Result) Breaking() []Violation {
	out := make([]Violation, 0)
	for _, v := range r.Violations {
		if v.IsBreaking() {
			out = append(out, v)
		}
	}
	return out
}

type cacheKey struct {
	newFingerprint string
	oldFingerprint string
	mode           Mode
}

// Checker runs compatibility checks against prior versions. It is safe for
// concurrent use.
type Checker struct {
	cache         *expirable.LRU[cacheKey, []Violation]
	cacheSize     int
	cacheTTL      time.Duration
	maxTransitive int
	concurrency   int
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithCache sizes the result cache. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// WithMaxTransitiveVersions bounds how many prior versions a transitive
// mode checks.
func WithMaxTransitiveVersions(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.maxTransitive = n
		}
	}
}

// WithConcurrency bounds how many candidates are checked at once
func WithConcurrency(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithCheckerLogger(logger *observability.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

func WithCheckerMetrics(metrics *observability.Metrics) CheckerOption {
	return func(c *Checker) {
		c.metrics = metrics
	}
}

// NewChecker creates a new checker
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		cacheSize:     DefaultCacheSize,
		cacheTTL:      DefaultCacheTTL,
		maxTransitive: DefaultMaxTransitiveVersions,
		concurrency:   defaultConcurrency,
		logger:        observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheSize > 0 {
		c.cache = expirable.NewLRU[cacheKey, []Violation](c.cacheSize, nil, c.cacheTTL)
	}
	return c
}

// Check checks newSchema against candidates under mode. Non-transitive modes
// check only the newest candidate; transitive modes check up to the
// configured maximum, newest first. Violations are reported in candidate
// order, each tagged with the version it was found against.
func (c *Checker) Check(ctx context.Context, newSchema *schema.NormalizedSchema, candidates []Candidate, mode Mode) (result *Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "compatibility.Check",
		attribute.String("compatibility.mode", mode.String()),
		attribute.Int("compatibility.candidates", len(candidates)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if mode < ModeNone || mode > ModeFullTransitive {
		return nil, fmt.Errorf("unknown compatibility mode: %d", int(mode))
	}

	result = &Result{
		Compatible:      true,
		Mode:            mode,
		Violations:      make([]Violation, 0),
		CheckedVersions: make([]schema.SemanticVersion, 0),
	}
	if mode == ModeNone || len(candidates) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	selected := c.selectCandidates(candidates, mode)
	perCandidate := make([][]Violation, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, cand := range selected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perCandidate[i] = c.checkOne(newSchema, cand.Schema, mode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to check compatibility: %w", err)
	}

	for i, cand := range selected {
		result.CheckedVersions = append(result.CheckedVersions, cand.Version)
		for _, v := range perCandidate[i] {
			version := cand.Version
			v.AgainstVersion = &version
			result.Violations = append(result.Violations, v)
			if v.IsBreaking() {
				result.Compatible = false
			}
		}
	}
	result.Summary = summarize(result.Violations)
	result.Duration = time.Since(start)

	c.metrics.RecordCompatibilityCheck(mode.String(), result.Compatible, result.Duration)
	c.logger.WithFields(map[string]interface{}{
		"mode":       mode.String(),
		"checked":    len(selected),
		"compatible": result.Compatible,
		"breaking":   result.Summary.Breaking,
	}).Debug("Compatibility check complete")
	return result, nil
}

// Compare checks newSchema against a single prior schema
func (c *Checker) Compare(ctx context.Context, newSchema, oldSchema *schema.NormalizedSchema, mode Mode) (*Result, error) {
	return c.Check(ctx, newSchema, []Candidate{{Schema: oldSchema}}, mode)
}

func (c *Checker) selectCandidates(candidates []Candidate, mode Mode) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[j].Version.Less(ordered[i].Version)
	})
	if !mode.IsTransitive() {
		return ordered[:1]
	}
	if len(ordered) > c.maxTransitive {
		ordered = ordered[:c.maxTransitive]
	}
	return ordered
}

func (c *Checker) checkOne(newSchema, oldSchema *schema.NormalizedSchema, mode Mode) []Violation {
	key := cacheKey{newFingerprint: newSchema.Fingerprint, oldFingerprint: oldSchema.Fingerprint, mode: mode}
	cacheable := c.cache != nil && key.newFingerprint != "" && key.oldFingerprint != ""
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			c.metrics.RecordCacheLookup("compatibility", true)
			return cached
		}
		c.metrics.RecordCacheLookup("compatibility", false)
	}

	violations := make([]Violation, 0)
	for _, direction := range mode.Directions() {
		violations = append(violations, CompareSchemas(newSchema, oldSchema, direction)...)
		// a format change is one violation whatever the direction
		if newSchema.Format != oldSchema.Format {
			break
		}
	}
	if cacheable {
		c.cache.Add(key, violations)
	}
	return violations
}
