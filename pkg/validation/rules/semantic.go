package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

// DuplicateFieldRule rejects records that declare a field name twice
type DuplicateFieldRule struct {
	BaseRule
}

// NewDuplicateFieldRule creates a new duplicate field rule
func NewDuplicateFieldRule() *DuplicateFieldRule {
	return &DuplicateFieldRule{
		BaseRule: BaseRule{
			RuleName:        SemanticDuplicateField,
			RuleCategory:    validation.CategorySemantic,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Field names must be unique within a record",
		},
	}
}

func (r *DuplicateFieldRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindRecord {
			return true
		}
		seen := make(map[string]bool, len(node.Fields))
		for _, f := range node.Fields {
			if seen[f.Name] {
				findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
					fmt.Sprintf("field %q is declared more than once", f.Name),
					"Rename or remove the duplicate"))
				continue
			}
			seen[f.Name] = true
		}
		return true
	})
	return findings
}

// UnresolvedReferenceRule requires every external reference to be declared
type UnresolvedReferenceRule struct {
	BaseRule
}

// NewUnresolvedReferenceRule creates a new unresolved reference rule
func NewUnresolvedReferenceRule() *UnresolvedReferenceRule {
	return &UnresolvedReferenceRule{
		BaseRule: BaseRule{
			RuleName:        SemanticUnresolvedReference,
			RuleCategory:    validation.CategorySemantic,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Referenced types must be defined locally or declared as schema references",
		},
	}
}

func (r *UnresolvedReferenceRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	if ns.Format != schema.FormatProtobuf {
		for _, ref := range ns.References {
			if !rc.KnowsReference(ref) {
				findings = append(findings, r.unresolved(ref))
			}
		}
		return findings
	}

	// Protobuf: imports must be known; a type from another file is
	// accepted once any known import could provide it.
	knownImport, standardImport := false, false
	for _, ref := range ns.References {
		if !isProtoImport(ref) {
			continue
		}
		switch {
		case strings.HasPrefix(ref, standardImportPrefix):
			standardImport = true
		case rc.KnowsReference(ref):
			knownImport = true
		default:
			findings = append(findings, r.unresolved(ref))
		}
	}
	for _, ref := range ns.References {
		if isProtoImport(ref) {
			continue
		}
		if strings.HasPrefix(ref, "google.protobuf.") && standardImport {
			continue
		}
		if knownImport || rc.KnowsReference(ref) {
			continue
		}
		findings = append(findings, r.unresolved(ref))
	}
	return findings
}

func (r *UnresolvedReferenceRule) unresolved(ref string) validation.Finding {
	return r.finding(ref,
		fmt.Sprintf("reference %q is not defined in this schema and was not declared", ref),
		"Declare the referenced schema in the request's references")
}

// MaxDepthRule bounds nesting depth
type MaxDepthRule struct {
	BaseRule
}

// NewMaxDepthRule creates a new max depth rule
func NewMaxDepthRule() *MaxDepthRule {
	return &MaxDepthRule{
		BaseRule: BaseRule{
			RuleName:        SemanticMaxDepth,
			RuleCategory:    validation.CategorySemantic,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Field tree nesting must not exceed the configured depth",
		},
	}
}

func (r *MaxDepthRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	limit := rc.Limits().MaxDepth
	if limit <= 0 {
		return nil
	}
	if depth := ns.Root.Depth(); depth > limit {
		return []validation.Finding{r.finding("",
			fmt.Sprintf("nesting depth %d exceeds limit %d", depth, limit),
			"Flatten deeply nested records or extract them into referenced schemas")}
	}
	return nil
}

// MaxSizeRule bounds raw schema size
type MaxSizeRule struct {
	BaseRule
}

// NewMaxSizeRule creates a new max size rule
func NewMaxSizeRule() *MaxSizeRule {
	return &MaxSizeRule{
		BaseRule: BaseRule{
			RuleName:        SemanticMaxSize,
			RuleCategory:    validation.CategorySemantic,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Schema content must not exceed the configured size",
		},
	}
}

func (r *MaxSizeRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	limit := rc.Limits().MaxSizeBytes
	if limit > 0 && ns.RawSize > limit {
		return []validation.Finding{r.finding("",
			fmt.Sprintf("schema is %d bytes, limit is %d", ns.RawSize, limit), "")}
	}
	return nil
}

// ConflictingConstraintsRule rejects constraints no value can satisfy
type ConflictingConstraintsRule struct {
	BaseRule
}

// NewConflictingConstraintsRule creates a new conflicting constraints rule
func NewConflictingConstraintsRule() *ConflictingConstraintsRule {
	return &ConflictingConstraintsRule{
		BaseRule: BaseRule{
			RuleName:        SemanticConflictingConstraints,
			RuleCategory:    validation.CategorySemantic,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Constraints must be satisfiable and defaults must satisfy them",
		},
	}
}

func (r *ConflictingConstraintsRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	findings := make([]validation.Finding, 0)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		c := node.Constraints
		if c != nil {
			if lo, hi := lowerBound(c), upperBound(c); lo != nil && hi != nil && *lo > *hi {
				findings = append(findings, r.finding(path,
					fmt.Sprintf("minimum %v is greater than maximum %v", *lo, *hi), ""))
			}
			if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
				findings = append(findings, r.finding(path,
					fmt.Sprintf("minLength %d is greater than maxLength %d", *c.MinLength, *c.MaxLength), ""))
			}
			if c.MinItems != nil && c.MaxItems != nil && *c.MinItems > *c.MaxItems {
				findings = append(findings, r.finding(path,
					fmt.Sprintf("minItems %d is greater than maxItems %d", *c.MinItems, *c.MaxItems), ""))
			}
			if c.Pattern != "" {
				if _, err := regexp.Compile(c.Pattern); err != nil {
					findings = append(findings, r.findingAt(validation.SeverityWarning, path,
						fmt.Sprintf("pattern %q does not compile: %v", c.Pattern, err), ""))
				}
			}
		}
		if node.HasDefault && node.Default != nil && !node.AllowsValue(node.Default) {
			findings = append(findings, r.finding(path,
				fmt.Sprintf("default %v is not one of the allowed values", node.Default),
				"Use one of: "+strings.Join(c.Enum, ", ")))
		}
		return true
	})
	return findings
}

func lowerBound(c *schema.Constraints) *float64 {
	if c.Minimum != nil {
		return c.Minimum
	}
	return c.ExclusiveMinimum
}

func upperBound(c *schema.Constraints) *float64 {
	if c.Maximum != nil {
		return c.Maximum
	}
	return c.ExclusiveMaximum
}
