package rules

import (
	"fmt"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

var jsonSchemaTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"null":    true,
	"object":  true,
	"array":   true,
}

// JSONUnknownTypeRule rejects type keywords outside the JSON Schema vocabulary
type JSONUnknownTypeRule struct {
	BaseRule
}

// NewJSONUnknownTypeRule creates a new unknown type rule
func NewJSONUnknownTypeRule() *JSONUnknownTypeRule {
	return &JSONUnknownTypeRule{
		BaseRule: BaseRule{
			RuleName:        JSONUnknownType,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "JSON Schema type must be one of string, number, integer, boolean, null, object, array",
		},
	}
}

func (r *JSONUnknownTypeRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	if ns.Format != schema.FormatJSON {
		return nil
	}
	findings := make([]validation.Finding, 0)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind == schema.KindScalar && !jsonSchemaTypes[node.Type] {
			findings = append(findings, r.finding(path,
				fmt.Sprintf("unknown type %q", node.Type),
				"Use one of string, number, integer, boolean, null, object, array"))
		}
		return true
	})
	return findings
}
