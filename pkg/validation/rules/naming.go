package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

var (
	snakeCaseRegex      = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)
	camelCaseRegex      = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	pascalCaseRegex     = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	upperSnakeCaseRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)
)

type nameStyle int

const (
	styleOther nameStyle = iota
	styleSnake
	styleCamel
	// styleBoth is a single lowercase word, valid in either convention
	styleBoth
)

func classifyName(name string) nameStyle {
	snake := snakeCaseRegex.MatchString(name)
	camel := camelCaseRegex.MatchString(name)
	switch {
	case snake && camel:
		return styleBoth
	case snake:
		return styleSnake
	case camel:
		return styleCamel
	}
	return styleOther
}

func (s nameStyle) String() string {
	switch s {
	case styleSnake:
		return "snake_case"
	case styleCamel:
		return "camelCase"
	}
	return "mixed"
}

// FieldCaseRule checks field naming conventions
type FieldCaseRule struct {
	BaseRule
}

// NewFieldCaseRule creates a new field case rule
func NewFieldCaseRule() *FieldCaseRule {
	return &FieldCaseRule{
		BaseRule: BaseRule{
			RuleName:        NamingFieldCase,
			RuleCategory:    validation.CategoryNaming,
			RuleSeverity:    validation.SeverityWarning,
			RuleDescription: "Field names use snake_case (Protobuf) or one consistent convention per record",
		},
	}
}

func (r *FieldCaseRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	seen := make(map[string]bool)

	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindRecord || node.Type == "file" {
			return true
		}
		if named := node.Type != "object"; named {
			if seen[node.Type] {
				return true
			}
			seen[node.Type] = true
		}

		if ns.Format == schema.FormatProtobuf {
			for _, f := range node.Fields {
				if !snakeCaseRegex.MatchString(f.Name) {
					findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
						fmt.Sprintf("field name %q should be snake_case", f.Name),
						"Rename to "+toSnakeCase(f.Name)))
				}
			}
			return true
		}

		dominant := styleOther
		for _, f := range node.Fields {
			if s := classifyName(f.Name); s == styleSnake || s == styleCamel {
				dominant = s
				break
			}
		}
		for _, f := range node.Fields {
			style := classifyName(f.Name)
			location := schema.JoinPath(path, f.Name)
			switch {
			case style == styleOther:
				findings = append(findings, r.finding(location,
					fmt.Sprintf("field name %q is neither snake_case nor camelCase", f.Name),
					"Rename to "+toSnakeCase(f.Name)))
			case style != styleBoth && dominant != styleOther && style != dominant:
				findings = append(findings, r.finding(location,
					fmt.Sprintf("field name %q is %s but the record uses %s", f.Name, style, dominant), ""))
			}
		}
		return true
	})
	return findings
}

// RecordCaseRule checks that named records and enums use PascalCase
type RecordCaseRule struct {
	BaseRule
}

// NewRecordCaseRule creates a new record case rule
func NewRecordCaseRule() *RecordCaseRule {
	return &RecordCaseRule{
		BaseRule: BaseRule{
			RuleName:        NamingRecordCase,
			RuleCategory:    validation.CategoryNaming,
			RuleSeverity:    validation.SeverityWarning,
			RuleDescription: "Record, message and enum names use PascalCase",
		},
	}
}

func (r *RecordCaseRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	if ns.Format == schema.FormatJSON {
		return nil
	}
	findings := make([]validation.Finding, 0)
	seen := make(map[string]bool)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if (node.Kind != schema.KindRecord && node.Kind != schema.KindEnum) || node.Type == "file" {
			return true
		}
		if seen[node.Type] {
			return true
		}
		seen[node.Type] = true
		name := shortName(node.Type)
		if !pascalCaseRegex.MatchString(name) {
			findings = append(findings, r.finding(node.Type,
				fmt.Sprintf("%s name %q should be PascalCase", node.Kind, name),
				"Rename to "+toPascalCase(name)))
		}
		return true
	})
	return findings
}

// EnumValueCaseRule checks that enum symbols use UPPER_SNAKE_CASE
type EnumValueCaseRule struct {
	BaseRule
}

// NewEnumValueCaseRule creates a new enum value case rule
func NewEnumValueCaseRule() *EnumValueCaseRule {
	return &EnumValueCaseRule{
		BaseRule: BaseRule{
			RuleName:        NamingEnumValueCase,
			RuleCategory:    validation.CategoryNaming,
			RuleSeverity:    validation.SeverityWarning,
			RuleDescription: "Enum values use UPPER_SNAKE_CASE",
		},
	}
}

func (r *EnumValueCaseRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	seen := make(map[string]bool)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindEnum || node.Constraints == nil || seen[node.Type] {
			return true
		}
		seen[node.Type] = true
		for _, value := range node.Constraints.Enum {
			if !upperSnakeCaseRegex.MatchString(value) {
				findings = append(findings, r.finding(node.Type+"."+value,
					fmt.Sprintf("enum value %q should be UPPER_SNAKE_CASE", value),
					"Rename to "+strings.ToUpper(toSnakeCase(value))))
			}
		}
		return true
	})
	return findings
}

func shortName(full string) string {
	if i := strings.LastIndex(full, "."); i >= 0 {
		return full[i+1:]
	}
	return full
}

// toSnakeCase converts camelCase, PascalCase or kebab-case to snake_case
func toSnakeCase(s string) string {
	var result strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case r == '-' || r == ' ' || r == '.':
			result.WriteRune('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				result.WriteRune('_')
			}
			result.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			result.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return result.String()
}

func toPascalCase(s string) string {
	var result strings.Builder
	upperNext := true
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upperNext = true
			continue
		}
		if upperNext {
			result.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}
