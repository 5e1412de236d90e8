package rules

import (
	"context"
	"fmt"

	"github.com/linkedin/goavro/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

// GrammarRule re-checks a schema with its format's own library
type GrammarRule struct {
	BaseRule
}

// NewGrammarRule creates a new grammar rule
func NewGrammarRule() *GrammarRule {
	return &GrammarRule{
		BaseRule: BaseRule{
			RuleName:        StructureValidGrammar,
			RuleCategory:    validation.CategoryStructural,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Schema must be accepted by its format's reference parser",
		},
	}
}

// Check compiles the schema. Schemas with external references cannot be
// compiled in isolation and are left to the reference rule.
func (r *GrammarRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	switch ns.Format {
	case schema.FormatJSON:
		if len(ns.References) > 0 {
			return nil
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ns.Source)); err != nil {
			return []validation.Finding{r.finding("", "invalid JSON Schema: "+err.Error(), "")}
		}
	case schema.FormatAvro:
		if len(ns.References) > 0 {
			return nil
		}
		if _, err := goavro.NewCodec(string(ns.Source)); err != nil {
			return []validation.Finding{r.finding("", "invalid Avro schema: "+err.Error(), "")}
		}
	case schema.FormatProtobuf:
		if !onlyStandardImports(protoImports(ns.Source)) {
			return nil
		}
		_, errs, err := compileProto(context.Background(), ns.Source)
		findings := make([]validation.Finding, 0, len(errs))
		for _, e := range errs {
			pos := e.GetPosition()
			findings = append(findings, r.finding(
				fmt.Sprintf("line %d, column %d", pos.Line, pos.Col),
				e.Unwrap().Error(),
				"",
			))
		}
		if len(findings) == 0 && err != nil {
			findings = append(findings, r.finding("", err.Error(), ""))
		}
		return findings
	}
	return nil
}

// RootRecordRule requires the top level of a schema to declare fields
type RootRecordRule struct {
	BaseRule
}

// NewRootRecordRule creates a new root record rule
func NewRootRecordRule() *RootRecordRule {
	return &RootRecordRule{
		BaseRule: BaseRule{
			RuleName:        StructureRootRecord,
			RuleCategory:    validation.CategoryStructural,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Schema root must be a record (object or message) with at least one field",
		},
	}
}

func (r *RootRecordRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	root := ns.Root
	if ns.Format == schema.FormatProtobuf {
		for _, top := range root.Fields {
			if top.Kind != schema.KindRecord {
				continue
			}
			if len(top.Fields) == 0 {
				return []validation.Finding{r.findingAt(validation.SeverityWarning, top.Name,
					fmt.Sprintf("message %s declares no fields", top.Name), "")}
			}
			return nil
		}
		return []validation.Finding{r.finding("", "file declares no messages", "Add at least one message definition")}
	}

	switch root.Kind {
	case schema.KindRecord:
		if len(root.Fields) == 0 {
			return []validation.Finding{r.findingAt(validation.SeverityWarning, "", "root record declares no fields", "")}
		}
		return nil
	case schema.KindMap:
		return []validation.Finding{r.findingAt(validation.SeverityWarning, "",
			"root object declares no named properties", "Declare properties so consumers can rely on field names")}
	default:
		return []validation.Finding{r.finding("",
			fmt.Sprintf("root must be a record, got %s %q", root.Kind, root.Type),
			"Wrap the value in a record")}
	}
}
