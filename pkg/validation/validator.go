package validation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
)

// Options tune a single validation run
type Options struct {
	// FailFast stops after the first rule that reports an error. The
	// configured default applies when false.
	FailFast bool
	// Rules restricts the run to the named rules when non-empty.
	Rules      []string
	References []string
	Examples   []string
}

// Validator runs registered rules against normalized schemas. It is safe for
// concurrent use.
type Validator struct {
	registry   *Registry
	config     func() *Config
	normalizer *schema.Normalizer
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithConfig uses a fixed configuration
func WithConfig(config *Config) ValidatorOption {
	return func(v *Validator) {
		if config != nil {
			v.config = func() *Config { return config }
		}
	}
}

// WithConfigWatcher reads the configuration from a hot-reloading watcher
func WithConfigWatcher(w *ConfigWatcher) ValidatorOption {
	return func(v *Validator) {
		if w != nil {
			v.config = w.Config
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics records findings to Prometheus
func WithMetrics(metrics *observability.Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = metrics
	}
}

// WithNormalizer sets the normalizer used by ValidateRaw
func WithNormalizer(n *schema.Normalizer) ValidatorOption {
	return func(v *Validator) {
		if n != nil {
			v.normalizer = n
		}
	}
}

// NewValidator creates a validator over registry
func NewValidator(registry *Registry, opts ...ValidatorOption) *Validator {
	defaults := DefaultConfig()
	v := &Validator{
		registry:   registry,
		config:     func() *Config { return defaults },
		normalizer: schema.NewNormalizer(nil),
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Config returns the configuration the next run will use
func (v *Validator) Config() *Config {
	return v.config()
}

// Validate runs the enabled rules in order. Context cancellation stops the
// run between rules; the partial report is marked invalid.
func (v *Validator) Validate(ctx context.Context, ns *schema.NormalizedSchema, opts Options) *Report {
	start := time.Now()
	config := v.config()
	report := newReport()

	rc := &RuleContext{
		Config:     config,
		References: opts.References,
		Examples:   opts.Examples,
	}
	failFast := opts.FailFast || config.FailFast

	for _, rule := range v.selectRules(config, opts.Rules) {
		if err := ctx.Err(); err != nil {
			report.add(Finding{
				Rule:     RuleRuleFailure,
				Category: rule.Category(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("validation interrupted before %s: %v", rule.Name(), err),
			})
			break
		}

		findings := v.runRule(rule, ns, rc)
		report.RulesRun = append(report.RulesRun, rule.Name())

		sawError := false
		for _, f := range findings {
			if sev, ok := config.SeverityFor(rule); ok && f.Rule == rule.Name() {
				f.Severity = sev
			}
			if f.Severity == SeverityError {
				sawError = true
			}
			v.metrics.RecordFinding(f.Rule, string(f.Severity))
			report.add(f)
		}
		if failFast && sawError {
			break
		}
	}

	report.Valid = len(report.Errors) == 0
	report.Duration = time.Since(start)

	v.logger.WithFields(map[string]interface{}{
		"format":   ns.Format.String(),
		"valid":    report.Valid,
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
		"rules":    len(report.RulesRun),
	}).Debug("Validation complete")

	return report
}

// ValidateRaw normalizes raw content and validates it. A parse failure is
// reported as a single PARSE_ERROR finding and a nil schema.
func (v *Validator) ValidateRaw(ctx context.Context, raw []byte, format schema.Format, opts Options) (*Report, *schema.NormalizedSchema) {
	start := time.Now()
	ns, err := v.normalizer.Normalize(raw, format)
	if err != nil {
		report := newReport()
		f := Finding{
			Rule:     RuleParseError,
			Category: CategoryStructural,
			Severity: SeverityError,
			Message:  err.Error(),
		}
		var pe *schema.ParseError
		if errors.As(err, &pe) && pe.Line > 0 {
			f.Location = fmt.Sprintf("line %d, column %d", pe.Line, pe.Column)
			f.Message = pe.Message
		}
		report.add(f)
		v.metrics.RecordFinding(f.Rule, string(f.Severity))
		report.Duration = time.Since(start)
		return report, nil
	}
	return v.Validate(ctx, ns, opts), ns
}

func (v *Validator) selectRules(config *Config, only []string) []Rule {
	enabled := v.registry.Enabled(config)
	if len(only) == 0 {
		return enabled
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	out := make([]Rule, 0, len(only))
	for _, rule := range enabled {
		if wanted[rule.Name()] {
			out = append(out, rule)
		}
	}
	return out
}

// runRule isolates a rule so a panic becomes a RULE_FAILURE finding
func (v *Validator) runRule(rule Rule, ns *schema.NormalizedSchema, rc *RuleContext) (findings []Finding) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.WithFields(map[string]interface{}{
				"rule":  rule.Name(),
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Validation rule panicked")
			findings = []Finding{{
				Rule:     RuleRuleFailure,
				Category: rule.Category(),
				Severity: SeverityError,
				Location: rule.Name(),
				Message:  fmt.Sprintf("rule %s failed: %v", rule.Name(), r),
			}}
		}
	}()
	return rule.Check(ns, rc)
}
