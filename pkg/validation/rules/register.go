package rules

import "github.com/platinummonkey/lineage/pkg/validation"

// RegisterDefaultRules registers all built-in rules in execution order
func RegisterDefaultRules(registry *validation.Registry) {
	// Structural rules
	registry.Register(NewGrammarRule())
	registry.Register(NewRootRecordRule())

	// Semantic rules
	registry.Register(NewDuplicateFieldRule())
	registry.Register(NewUnresolvedReferenceRule())
	registry.Register(NewMaxDepthRule())
	registry.Register(NewMaxSizeRule())
	registry.Register(NewConflictingConstraintsRule())

	// Naming rules
	registry.Register(NewFieldCaseRule())
	registry.Register(NewRecordCaseRule())
	registry.Register(NewEnumValueCaseRule())

	// Format-specific rules
	registry.Register(NewFieldNumberUniqueRule())
	registry.Register(NewFieldNumberRangeRule())
	registry.Register(NewReservedRangeRule())
	registry.Register(NewReservedFieldReuseRule())
	registry.Register(NewAvroReservedFieldNameRule())
	registry.Register(NewAvroDefaultMatchesUnionRule())
	registry.Register(NewJSONUnknownTypeRule())

	// Example payloads
	registry.Register(NewExamplesRule())
}

// NewDefaultRegistry returns a registry holding the built-in rules
func NewDefaultRegistry() *validation.Registry {
	registry := validation.NewRegistry()
	RegisterDefaultRules(registry)
	return registry
}
