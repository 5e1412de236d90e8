package compatibility

import (
	"fmt"

	"github.com/platinummonkey/lineage/pkg/schema"
)

// Kind names a classified structural change
type Kind string

const (
	KindFormatChanged           Kind = "FORMAT_CHANGED"
	KindFieldRemoved            Kind = "FIELD_REMOVED"
	KindFieldRemovedWithDefault Kind = "FIELD_REMOVED_WITH_DEFAULT"
	KindFieldAdded              Kind = "FIELD_ADDED"
	KindRequiredAdded           Kind = "REQUIRED_ADDED"
	KindTypeChanged             Kind = "TYPE_CHANGED"
	KindTypeWidened             Kind = "TYPE_WIDENED"
	KindArrayItemsChanged       Kind = "ARRAY_ITEMS_CHANGED"
	KindMapValuesChanged        Kind = "MAP_VALUES_CHANGED"
	KindUnionVariantRemoved     Kind = "UNION_VARIANT_REMOVED"
	KindUnionVariantAdded       Kind = "UNION_VARIANT_ADDED"
	KindFieldMadeRequired       Kind = "FIELD_MADE_REQUIRED"
	KindFieldMadeOptional       Kind = "FIELD_MADE_OPTIONAL"
	KindConstraintTightened     Kind = "CONSTRAINT_TIGHTENED"
	KindConstraintRelaxed       Kind = "CONSTRAINT_RELAXED"
	KindEnumValueRemoved        Kind = "ENUM_VALUE_REMOVED"
	KindEnumValueAdded          Kind = "ENUM_VALUE_ADDED"
	KindNameChanged             Kind = "NAME_CHANGED"
	KindFieldNumberReused       Kind = "FIELD_NUMBER_REUSED"
)

// additiveKinds are non-breaking changes that widen what a schema accepts
var additiveKinds = map[Kind]bool{
	KindFieldAdded:        true,
	KindConstraintRelaxed: true,
	KindEnumValueAdded:    true,
	KindTypeWidened:       true,
	KindFieldMadeOptional: true,
	KindUnionVariantAdded: true,
}

// IsAdditive reports whether the change counts as a minor version bump
func (k Kind) IsAdditive() bool {
	return additiveKinds[k]
}

// Severity indicates how a violation affects compatibility
type Severity string

const (
	SeverityBreaking Severity = "BREAKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Direction is the reader/writer role a violation was found in. Backward
// means the new schema reads data written with the old one.
type Direction string

const (
	DirectionBackward Direction = "BACKWARD"
	DirectionForward  Direction = "FORWARD"
)

// Violation represents a compatibility violation
type Violation struct {
	Kind           Kind                    `json:"kind"`
	Severity       Severity                `json:"severity"`
	Path           string                  `json:"path"`
	OldValue       string                  `json:"old_value,omitempty"`
	NewValue       string                  `json:"new_value,omitempty"`
	Message        string                  `json:"message"`
	Direction      Direction               `json:"direction,omitempty"`
	AgainstVersion *schema.SemanticVersion `json:"against_version,omitempty"`
}

// IsBreaking reports whether the violation makes a check fail
func (v Violation) IsBreaking() bool {
	return v.Severity == SeverityBreaking
}

func (v Violation) String() string {
	loc := v.Path
	if loc == "" {
		loc = "<root>"
	}
	s := fmt.Sprintf("[%s] %s at %s: %s", v.Severity, v.Kind, loc, v.Message)
	if v.AgainstVersion != nil {
		s += " (against " + v.AgainstVersion.String() + ")"
	}
	return s
}

// Summary provides an overview of violations
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Breaking        int `json:"breaking"`
	Warnings        int `json:"warnings"`
	Infos           int `json:"infos"`
}

func summarize(violations []Violation) Summary {
	summary := Summary{
		TotalViolations: len(violations),
	}
	for _, v := range violations {
		switch v.Severity {
		case SeverityBreaking:
			summary.Breaking++
		case SeverityWarning:
			summary.Warnings++
		case SeverityInfo:
			summary.Infos++
		}
	}
	return summary
}

// ViolationBuilder helps construct violations fluently
type ViolationBuilder struct {
	violation Violation
}

// NewViolationBuilder creates a new violation builder
func NewViolationBuilder(kind Kind) *ViolationBuilder {
	return &ViolationBuilder{
		violation: Violation{
			Kind:     kind,
			Severity: SeverityBreaking,
		},
	}
}

func (b *ViolationBuilder) WithSeverity(severity Severity) *ViolationBuilder {
	b.violation.Severity = severity
	return b
}

func (b *ViolationBuilder) WithPath(path string) *ViolationBuilder {
	b.violation.Path = path
	return b
}

func (b *ViolationBuilder) WithMessage(format string, args ...interface{}) *ViolationBuilder {
	b.violation.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *ViolationBuilder) WithChange(oldValue, newValue string) *ViolationBuilder {
	b.violation.OldValue = oldValue
	b.violation.NewValue = newValue
	return b
}

func (b *ViolationBuilder) WithDirection(direction Direction) *ViolationBuilder {
	b.violation.Direction = direction
	return b
}

func (b *ViolationBuilder) AgainstVersion(version schema.SemanticVersion) *ViolationBuilder {
	b.violation.AgainstVersion = &version
	return b
}

func (b *ViolationBuilder) Build() Violation {
	return b.violation
}
