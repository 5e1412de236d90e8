package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/linkedin/goavro/v2"
	"github.com/xeipuuv/gojsonschema"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/validation"
)

// ExamplesRule checks the caller's sample payloads against the schema.
// Protobuf examples are decoded as protojson into the file's first message.
type ExamplesRule struct {
	BaseRule
}

// NewExamplesRule creates a new examples rule
func NewExamplesRule() *ExamplesRule {
	return &ExamplesRule{
		BaseRule: BaseRule{
			RuleName:        ExampleInvalid,
			RuleCategory:    validation.CategoryExamples,
			RuleSeverity:    validation.SeverityError,
			RuleDescription: "Example payloads must conform to the schema",
		},
	}
}

func (r *ExamplesRule) Check(ns *schema.NormalizedSchema, rc *validation.RuleContext) []validation.Finding {
	if rc == nil || len(rc.Examples) == 0 {
		return nil
	}

	check, err := r.checker(ns)
	if err != nil {
		return []validation.Finding{r.findingAt(validation.SeverityInfo, "examples",
			"examples were not checked: "+err.Error(), "")}
	}

	findings := make([]validation.Finding, 0)
	for i, example := range rc.Examples {
		if msg := check(example); msg != "" {
			findings = append(findings, r.finding(fmt.Sprintf("examples[%d]", i), msg, ""))
		}
	}
	return findings
}

// checker returns a function that validates one example and returns a
// description of the mismatch, or "" when the example conforms.
func (r *ExamplesRule) checker(ns *schema.NormalizedSchema) (func(string) string, error) {
	switch ns.Format {
	case schema.FormatJSON:
		if len(ns.References) > 0 {
			return nil, fmt.Errorf("schema has external references")
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ns.Source))
		if err != nil {
			return nil, err
		}
		return func(example string) string {
			result, err := compiled.Validate(gojsonschema.NewStringLoader(example))
			if err != nil {
				return "example is not valid JSON: " + err.Error()
			}
			if result.Valid() {
				return ""
			}
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return strings.Join(msgs, "; ")
		}, nil

	case schema.FormatAvro:
		if len(ns.References) > 0 {
			return nil, fmt.Errorf("schema has external references")
		}
		codec, err := goavro.NewCodec(string(ns.Source))
		if err != nil {
			return nil, err
		}
		return func(example string) string {
			if _, _, err := codec.NativeFromTextual([]byte(example)); err != nil {
				return err.Error()
			}
			return ""
		}, nil

	case schema.FormatProtobuf:
		if !onlyStandardImports(protoImports(ns.Source)) {
			return nil, fmt.Errorf("schema imports non-standard files")
		}
		file, _, err := compileProto(context.Background(), ns.Source)
		if err != nil {
			return nil, err
		}
		if file.Messages().Len() == 0 {
			return nil, fmt.Errorf("schema declares no messages")
		}
		md := file.Messages().Get(0)
		return func(example string) string {
			msg := dynamicpb.NewMessage(md)
			if err := protojson.Unmarshal([]byte(example), msg); err != nil {
				return fmt.Sprintf("%s: %v", md.FullName(), err)
			}
			return ""
		}, nil
	}
	return nil, fmt.Errorf("unsupported format %s", ns.Format)
}
