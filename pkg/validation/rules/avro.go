package rules

import (
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

var avroReservedFieldNames = map[string]bool{
	"type":      true,
	"schema":    true,
	"namespace": true,
	"name":      true,
	"fields":    true,
}

// AvroReservedFieldNameRule warns about field names that shadow Avro keywords
type AvroReservedFieldNameRule struct {
	BaseRule
}

// NewAvroReservedFieldNameRule creates a new reserved field name rule
func NewAvroReservedFieldNameRule() *AvroReservedFieldNameRule {
	return &AvroReservedFieldNameRule{
		BaseRule: BaseRule{
			RuleName:        AvroReservedFieldName,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityWarning,
			RuleDescription: "Avro field names should not shadow schema keywords",
		},
	}
}

func (r *AvroReservedFieldNameRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	if ns.Format != schema.FormatAvro {
		return nil
	}
	findings := make([]validation.Finding, 0)
	seen := make(map[string]bool)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindRecord || seen[node.Type] {
			return true
		}
		seen[node.Type] = true
		for _, f := range node.Fields {
			if avroReservedFieldNames[f.Name] {
				findings = append(findings, r.finding(schema.JoinPath(path, f.Name),
					fmt.Sprintf("field name %q is a reserved Avro keyword", f.Name),
					"Use a different field name to avoid confusion"))
			}
		}
		return true
	})
	return findings
}

// AvroDefaultMatchesUnionRule checks union defaults against the first branch
type AvroDefaultMatchesUnionRule struct {
	BaseRule
}

// NewAvroDefaultMatchesUnionRule creates a new union default rule
func NewAvroDefaultMatchesUnionRule() *AvroDefaultMatchesUnionRule {
	return &AvroDefaultMatchesUnionRule{
		BaseRule: BaseRule{
			RuleName:        AvroDefaultMatchesUnion,
			RuleCategory:    validation.CategoryFormat,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "A union field's default must match the union's first branch",
		},
	}
}

func (r *AvroDefaultMatchesUnionRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	if ns.Format != schema.FormatAvro {
		return nil
	}
	findings := make([]validation.Finding, 0)
	ns.Root.Walk(func(path string, node *schema.Node) bool {
		if node.Kind != schema.KindUnion || !node.HasDefault || len(node.Variants) == 0 {
			return true
		}
		first := node.Variants[0]
		if !avroValueMatches(first, node.Default) {
			findings = append(findings, r.finding(path,
				fmt.Sprintf("default %s does not match first union branch %q", describeValue(node.Default), first.Type),
				"Reorder the union so the default's type comes first"))
		}
		return true
	})
	return findings
}

// avroValueMatches reports whether a JSON-decoded default is a valid value of node
func avroValueMatches(node *schema.Node, v any) bool {
	switch node.Kind {
	case schema.KindScalar:
		switch node.Type {
		case "null":
			return v == nil
		case "boolean":
			_, ok := v.(bool)
			return ok
		case "int", "long":
			n, ok := v.(json.Number)
			if !ok {
				return false
			}
			_, err := n.Int64()
			return err == nil
		case "float", "double":
			_, ok := v.(json.Number)
			return ok
		case "string", "bytes", "fixed":
			_, ok := v.(string)
			return ok
		}
		return false
	case schema.KindEnum:
		s, ok := v.(string)
		return ok && node.AllowsValue(s)
	case schema.KindRecord, schema.KindMap:
		_, ok := v.(map[string]any)
		return ok
	case schema.KindArray:
		_, ok := v.([]any)
		return ok
	}
	// references to external named types cannot be checked here
	return true
}

func describeValue(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
