// Package validation gates schemas entering the registration pipeline.
//
// A Validator runs an ordered set of Rules from a Registry against a
// normalized schema and collects their findings into a Report. Rules are
// grouped by category and executed in registration order: structural,
// semantic, naming, format-specific, then example checks. The built-in rules
// live in the rules subpackage:
//
//	registry := rules.NewDefaultRegistry()
//	v := validation.NewValidator(registry, validation.WithConfig(cfg))
//	report := v.Validate(ctx, normalized, validation.Options{})
//
// Rule behaviour is tuned through a YAML Config (limits, disabled rules,
// severity overrides, fail-fast). A ConfigWatcher reloads the file on change.
package validation
