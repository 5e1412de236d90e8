package rules

import (
	"fmt"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

const (
	minFieldNumber         = 1
	maxFieldNumber         = 536870911 // 2^29 - 1
	implementationReserved = 19000
	implementationEnd      = 19999
)

// eachMessage visits every distinct protobuf message once
func eachMessage(ns *schema.NormalizedSchema, fn func(path string, msg *schema.Node)) {
	if ns.Format != schema.FormatProtobuf {
		return
	}
	seen := make(map[string]bool)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindRecord || node.Type == "file" || seen[node.Type] {
			return true
		}
		seen[node.Type] = true
		fn(node.Type, node)
		return true
	})
}

// FieldNumberUniqueRule rejects messages that reuse a field number
type FieldNumberUniqueRule struct {
	BaseRule
}

// NewFieldNumberUniqueRule creates a new field number uniqueness rule
func NewFieldNumberUniqueRule() *FieldNumberUniqueRule {
	return &FieldNumberUniqueRule{
		BaseRule: BaseRule{
			RuleName:        ProtobufFieldNumberUnique,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Field numbers must be unique within a message",
		},
	}
}

func (r *FieldNumberUniqueRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	eachMessage(ns, func(path string, msg *schema.Node) {
		numbers := make(map[int32]string, len(msg.Fields))
		for _, f := range msg.Fields {
			if existing, ok := numbers[f.Number]; ok {
				findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
					fmt.Sprintf("field number %d is already used by field %q", f.Number, existing),
					"Assign an unused field number"))
				continue
			}
			numbers[f.Number] = f.Name
		}
	})
	return findings
}

// FieldNumberRangeRule checks field numbers are within the wire format range
type FieldNumberRangeRule struct {
	BaseRule
}

// NewFieldNumberRangeRule creates a new field number range rule
func NewFieldNumberRangeRule() *FieldNumberRangeRule {
	return &FieldNumberRangeRule{
		BaseRule: BaseRule{
			RuleName:        ProtobufFieldNumberRange,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Field numbers must be between 1 and 536870911",
		},
	}
}

func (r *FieldNumberRangeRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	eachMessage(ns, func(path string, msg *schema.Node) {
		for _, f := range msg.Fields {
			if f.Number < minFieldNumber || f.Number > maxFieldNumber {
				findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
					fmt.Sprintf("field number %d is outside %d..%d", f.Number, minFieldNumber, maxFieldNumber), ""))
			}
		}
	})
	return findings
}

// ReservedRangeRule forbids the implementation-reserved numbers
type ReservedRangeRule struct {
	BaseRule
}

// NewReservedRangeRule creates a new reserved range rule
func NewReservedRangeRule() *ReservedRangeRule {
	return &ReservedRangeRule{
		BaseRule: BaseRule{
			RuleName:        ProtobufReservedRange,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Field numbers 19000-19999 are reserved for the protobuf implementation",
		},
	}
}

func (r *ReservedRangeRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	eachMessage(ns, func(path string, msg *schema.Node) {
		for _, f := range msg.Fields {
			if f.Number >= implementationReserved && f.Number <= implementationEnd {
				findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
					fmt.Sprintf("field number %d is in the reserved range %d-%d", f.Number, implementationReserved, implementationEnd), ""))
			}
		}
	})
	return findings
}

// ReservedFieldReuseRule rejects fields that use a reserved number or name
type ReservedFieldReuseRule struct {
	BaseRule
}

// NewReservedFieldReuseRule creates a new reserved field reuse rule
func NewReservedFieldReuseRule() *ReservedFieldReuseRule {
	return &ReservedFieldReuseRule{
		BaseRule: BaseRule{
			RuleName:        ProtobufReservedFieldReuse,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Fields must not use numbers or names the message reserves",
		},
	}
}

func (r *ReservedFieldReuseRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	eachMessage(ns, func(path string, msg *schema.Node) {
		for _, f := range msg.Fields {
			location := schema.JoinPath(path, f.Name)
			if msg.Reserved.Contains(f.Number) {
				findings = append(findings, r.finding(location,
					fmt.Sprintf("field number %d is reserved", f.Number), "Assign an unreserved field number"))
			}
			if msg.Reserved.HasName(f.Name) {
				findings = append(findings, r.finding(location,
					fmt.Sprintf("field name %q is reserved", f.Name), "Choose a different field name"))
			}
		}
	})
	return findings
}
