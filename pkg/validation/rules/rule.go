package rules

import (
	"github.com/platinummonkey/lineage/pkg/validation"
)

// Rule names
const (
	StructureValidGrammar = "STRUCTURE_VALID_GRAMMAR"
	StructureRootRecord   = "STRUCTURE_ROOT_RECORD"

	SemanticDuplicateField         = "SEMANTIC_DUPLICATE_FIELD"
	SemanticUnresolvedReference    = "SEMANTIC_UNRESOLVED_REFERENCE"
	SemanticMaxDepth               = "SEMANTIC_MAX_DEPTH"
	SemanticMaxSize                = "SEMANTIC_MAX_SIZE"
	SemanticConflictingConstraints = "SEMANTIC_CONFLICTING_CONSTRAINTS"

	NamingFieldCase     = "NAMING_FIELD_CASE"
	NamingRecordCase    = "NAMING_RECORD_CASE"
	NamingEnumValueCase = "NAMING_ENUM_VALUE_CASE"

	ProtobufFieldNumberUnique  = "PROTOBUF_FIELD_NUMBER_UNIQUE"
	ProtobufFieldNumberRange   = "PROTOBUF_FIELD_NUMBER_RANGE"
	ProtobufReservedRange      = "PROTOBUF_RESERVED_RANGE"
	ProtobufReservedFieldReuse = "PROTOBUF_RESERVED_FIELD_REUSE"
	AvroReservedFieldName      = "AVRO_RESERVED_FIELD_NAME"
	AvroDefaultMatchesUnion    = "AVRO_DEFAULT_MATCHES_UNION"
	JSONUnknownType            = "JSON_UNKNOWN_TYPE"

	ExampleInvalid = "EXAMPLE_INVALID"
)

// BaseRule provides common functionality for rules
type BaseRule struct {
	RuleName        string
	RuleCategory    validation.Category
	RuleSeverity    validation.Severity
	RuleDescription string
}

func (r *BaseRule) Name() string                  { return r.RuleName }
func (r *BaseRule) Category() validation.Category { return r.RuleCategory }
func (r *BaseRule) Severity() validation.Severity { return r.RuleSeverity }
func (r *BaseRule) Description() string           { return r.RuleDescription }

// finding builds a finding at the rule's default severity
func (r *BaseRule) finding(location, message, suggestion string) validation.Finding {
	return r.findingAt(r.RuleSeverity, location, message, suggestion)
}

func (r *BaseRule) findingAt(sev validation.Severity, location, message, suggestion string) validation.Finding {
	return validation.Finding{
		Rule:       r.RuleName,
		Category:   r.RuleCategory,
		Severity:   sev,
		Location:   location,
		Message:    message,
		Suggestion: suggestion,
	}
}
