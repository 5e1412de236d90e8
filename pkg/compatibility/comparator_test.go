package compatibility

import (
	"testing"

	"github.com/platinummonkey/lineage/pkg/schema"
)

const (
	userV1 = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"}},"required":["id","email"]}`
	userV2 = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"},"phone":{"type":"string"}},"required":["id","email"]}`
	userV3 = `{"type":"object","properties":{"id":{"type":"string"},"email":{"type":"string"},"phone":{"type":"string"}},"required":["id","email","phone"]}`
)

func mustNormalize(t *testing.T, format schema.Format, src string) *schema.NormalizedSchema {
	t.Helper()
	ns, err := schema.Normalize([]byte(src), format)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return ns
}

func backward(t *testing.T, format schema.Format, oldSrc, newSrc string) []Violation {
	t.Helper()
	return CompareSchemas(mustNormalize(t, format, newSrc), mustNormalize(t, format, oldSrc), DirectionBackward)
}

func findViolation(violations []Violation, kind Kind, path string) *Violation {
	for i := range violations {
		if violations[i].Kind == kind && violations[i].Path == path {
			return &violations[i]
		}
	}
	return nil
}

func hasBreaking(violations []Violation) bool {
	for _, v := range violations {
		if v.IsBreaking() {
			return true
		}
	}
	return false
}

func TestCompareSchemas_OptionalFieldAdded(t *testing.T) {
	violations := backward(t, schema.FormatJSON, userV1, userV2)

	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	v := violations[0]
	if v.Kind != KindFieldAdded || v.Severity != SeverityInfo || v.Path != "phone" {
		t.Errorf("unexpected violation %v", v)
	}
	if v.Direction != DirectionBackward {
		t.Errorf("Direction = %s, want BACKWARD", v.Direction)
	}
}

func TestCompareSchemas_FieldBecomesRequiredWithoutDefault(t *testing.T) {
	violations := backward(t, schema.FormatJSON, userV2, userV3)

	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	if v := violations[0]; v.Kind != KindRequiredAdded || !v.IsBreaking() || v.Path != "phone" {
		t.Errorf("unexpected violation %v", v)
	}

	// against a version without the field at all
	violations = backward(t, schema.FormatJSON, userV1, userV3)
	if findViolation(violations, KindRequiredAdded, "phone") == nil {
		t.Errorf("expected REQUIRED_ADDED on phone, got %v", violations)
	}
}

func TestCompareSchemas_FieldMadeRequiredWithDefault(t *testing.T) {
	oldSrc := `{"type":"object","properties":{"tier":{"type":"string","default":"free"}}}`
	newSrc := `{"type":"object","properties":{"tier":{"type":"string","default":"free"}},"required":["tier"]}`

	violations := backward(t, schema.FormatJSON, oldSrc, newSrc)
	if findViolation(violations, KindFieldMadeRequired, "tier") == nil {
		t.Fatalf("expected FIELD_MADE_REQUIRED, got %v", violations)
	}

	violations = backward(t, schema.FormatJSON, newSrc, oldSrc)
	v := findViolation(violations, KindFieldMadeOptional, "tier")
	if v == nil || v.IsBreaking() {
		t.Fatalf("expected non-breaking FIELD_MADE_OPTIONAL, got %v", violations)
	}
}

func TestCompareSchemas_FieldRemoved(t *testing.T) {
	violations := backward(t, schema.FormatJSON, userV2, userV1)
	if v := findViolation(violations, KindFieldRemoved, "phone"); v == nil || !v.IsBreaking() {
		t.Fatalf("expected breaking FIELD_REMOVED, got %v", violations)
	}

	withDefault := `{"type":"object","properties":{"id":{"type":"string"},"locale":{"type":"string","default":"en"}}}`
	violations = backward(t, schema.FormatJSON, withDefault, `{"type":"object","properties":{"id":{"type":"string"}}}`)
	v := findViolation(violations, KindFieldRemovedWithDefault, "locale")
	if v == nil || v.Severity != SeverityWarning {
		t.Fatalf("expected FIELD_REMOVED_WITH_DEFAULT warning, got %v", violations)
	}
	if hasBreaking(violations) {
		t.Errorf("removing a defaulted field should not break: %v", violations)
	}
}

func TestCompareSchemas_TypeChanges(t *testing.T) {
	tests := []struct {
		name     string
		format   schema.Format
		oldSrc   string
		newSrc   string
		kind     Kind
		path     string
		breaking bool
	}{
		{
			name:   "json integer to number widens",
			format: schema.FormatJSON,
			oldSrc: `{"type":"object","properties":{"age":{"type":"integer"}}}`,
			newSrc: `{"type":"object","properties":{"age":{"type":"number"}}}`,
			kind:   KindTypeWidened,
			path:   "age",
		},
		{
			name:     "json number to integer narrows",
			format:   schema.FormatJSON,
			oldSrc:   `{"type":"object","properties":{"age":{"type":"number"}}}`,
			newSrc:   `{"type":"object","properties":{"age":{"type":"integer"}}}`,
			kind:     KindTypeChanged,
			path:     "age",
			breaking: true,
		},
		{
			name:   "avro int to long widens",
			format: schema.FormatAvro,
			oldSrc: `{"type":"record","name":"Event","fields":[{"name":"count","type":"int"}]}`,
			newSrc: `{"type":"record","name":"Event","fields":[{"name":"count","type":"long"}]}`,
			kind:   KindTypeWidened,
			path:   "count",
		},
		{
			name:     "avro long to int narrows",
			format:   schema.FormatAvro,
			oldSrc:   `{"type":"record","name":"Event","fields":[{"name":"count","type":"long"}]}`,
			newSrc:   `{"type":"record","name":"Event","fields":[{"name":"count","type":"int"}]}`,
			kind:     KindTypeChanged,
			path:     "count",
			breaking: true,
		},
		{
			name:     "avro array items change",
			format:   schema.FormatAvro,
			oldSrc:   `{"type":"record","name":"Event","fields":[{"name":"tags","type":{"type":"array","items":"string"}}]}`,
			newSrc:   `{"type":"record","name":"Event","fields":[{"name":"tags","type":{"type":"array","items":"int"}}]}`,
			kind:     KindArrayItemsChanged,
			path:     "tags[]",
			breaking: true,
		},
		{
			name:     "avro map values change",
			format:   schema.FormatAvro,
			oldSrc:   `{"type":"record","name":"Event","fields":[{"name":"attrs","type":{"type":"map","values":"string"}}]}`,
			newSrc:   `{"type":"record","name":"Event","fields":[{"name":"attrs","type":{"type":"map","values":"boolean"}}]}`,
			kind:     KindMapValuesChanged,
			path:     "attrs{}",
			breaking: true,
		},
		{
			name:   "protobuf int32 to int64 widens",
			format: schema.FormatProtobuf,
			oldSrc: "syntax = \"proto3\";\nmessage Counter { int32 value = 1; }\n",
			newSrc: "syntax = \"proto3\";\nmessage Counter { int64 value = 1; }\n",
			kind:   KindTypeWidened,
			path:   "Counter.value",
		},
		{
			name:     "protobuf string to int64 breaks",
			format:   schema.FormatProtobuf,
			oldSrc:   "syntax = \"proto3\";\nmessage Counter { string value = 1; }\n",
			newSrc:   "syntax = \"proto3\";\nmessage Counter { int64 value = 1; }\n",
			kind:     KindTypeChanged,
			path:     "Counter.value",
			breaking: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := backward(t, tt.format, tt.oldSrc, tt.newSrc)
			v := findViolation(violations, tt.kind, tt.path)
			if v == nil {
				t.Fatalf("expected %s at %s, got %v", tt.kind, tt.path, violations)
			}
			if v.IsBreaking() != tt.breaking {
				t.Errorf("IsBreaking() = %v, want %v", v.IsBreaking(), tt.breaking)
			}
			if hasBreaking(violations) != tt.breaking {
				t.Errorf("unexpected violations %v", violations)
			}
		})
	}
}

func TestCompareSchemas_AvroUnions(t *testing.T) {
	required := `{"type":"record","name":"User","fields":[{"name":"nick","type":"string"}]}`
	nullable := `{"type":"record","name":"User","fields":[{"name":"nick","type":["null","string"],"default":null}]}`

	violations := backward(t, schema.FormatAvro, required, nullable)
	if hasBreaking(violations) {
		t.Fatalf("promoting to a nullable union should not break: %v", violations)
	}
	if findViolation(violations, KindUnionVariantAdded, "nick") == nil {
		t.Errorf("expected UNION_VARIANT_ADDED, got %v", violations)
	}

	violations = backward(t, schema.FormatAvro, nullable, required)
	if findViolation(violations, KindUnionVariantRemoved, "nick") == nil {
		t.Errorf("expected UNION_VARIANT_REMOVED, got %v", violations)
	}
	if !hasBreaking(violations) {
		t.Errorf("expected a breaking violation, got %v", violations)
	}
}

func TestCompareSchemas_Enums(t *testing.T) {
	oldSrc := `{"type":"record","name":"Order","fields":[{"name":"status","type":{"type":"enum","name":"Status","symbols":["NEW","PAID"]}}]}`
	newSrc := `{"type":"record","name":"Order","fields":[{"name":"status","type":{"type":"enum","name":"Status","symbols":["NEW","SHIPPED"]}}]}`

	violations := backward(t, schema.FormatAvro, oldSrc, newSrc)
	if v := findViolation(violations, KindEnumValueRemoved, "status"); v == nil || v.OldValue != "PAID" {
		t.Errorf("expected ENUM_VALUE_REMOVED for PAID, got %v", violations)
	}
	if v := findViolation(violations, KindEnumValueAdded, "status"); v == nil || v.NewValue != "SHIPPED" {
		t.Errorf("expected ENUM_VALUE_ADDED for SHIPPED, got %v", violations)
	}
}

func TestCompareSchemas_Constraints(t *testing.T) {
	oldSrc := `{"type":"object","properties":{"code":{"type":"string","maxLength":10},"qty":{"type":"integer"}}}`
	tighter := `{"type":"object","properties":{"code":{"type":"string","maxLength":5},"qty":{"type":"integer","minimum":1}}}`
	looser := `{"type":"object","properties":{"code":{"type":"string","maxLength":20},"qty":{"type":"integer"}}}`

	violations := backward(t, schema.FormatJSON, oldSrc, tighter)
	if findViolation(violations, KindConstraintTightened, "code") == nil {
		t.Errorf("expected maxLength tightening, got %v", violations)
	}
	if findViolation(violations, KindConstraintTightened, "qty") == nil {
		t.Errorf("expected new minimum to tighten, got %v", violations)
	}

	violations = backward(t, schema.FormatJSON, oldSrc, looser)
	if v := findViolation(violations, KindConstraintRelaxed, "code"); v == nil || v.IsBreaking() {
		t.Errorf("expected non-breaking relaxation, got %v", violations)
	}
}

func TestCompareSchemas_ProtobufFieldNumbers(t *testing.T) {
	base := "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  string name = 2;\n}\n"
	renamed := "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  string full_name = 2;\n}\n"
	reused := "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  double score = 2;\n}\n"
	removed := "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  reserved 2;\n}\n"

	violations := backward(t, schema.FormatProtobuf, base, renamed)
	if v := findViolation(violations, KindNameChanged, "User.name"); v == nil || v.Severity != SeverityWarning {
		t.Errorf("expected NAME_CHANGED warning, got %v", violations)
	}
	if hasBreaking(violations) {
		t.Errorf("rename with same type should not break: %v", violations)
	}

	violations = backward(t, schema.FormatProtobuf, base, reused)
	if v := findViolation(violations, KindFieldNumberReused, "User.name"); v == nil || !v.IsBreaking() {
		t.Errorf("expected breaking FIELD_NUMBER_REUSED, got %v", violations)
	}

	violations = backward(t, schema.FormatProtobuf, base, removed)
	if v := findViolation(violations, KindFieldRemovedWithDefault, "User.name"); v == nil {
		t.Errorf("expected FIELD_REMOVED_WITH_DEFAULT, got %v", violations)
	}
	if hasBreaking(violations) {
		t.Errorf("removing a proto3 field should not break: %v", violations)
	}
}

func TestCompareSchemas_FormatChanged(t *testing.T) {
	json := mustNormalize(t, schema.FormatJSON, userV1)
	avro := mustNormalize(t, schema.FormatAvro, `{"type":"record","name":"User","fields":[{"name":"id","type":"string"}]}`)

	violations := CompareSchemas(avro, json, DirectionBackward)
	if len(violations) != 1 || violations[0].Kind != KindFormatChanged || !violations[0].IsBreaking() {
		t.Fatalf("expected single FORMAT_CHANGED, got %v", violations)
	}
}

func TestCompareSchemas_Reflexive(t *testing.T) {
	for _, format := range schema.Formats() {
		var src string
		switch format {
		case schema.FormatJSON:
			src = userV3
		case schema.FormatAvro:
			src = `{"type":"record","name":"User","fields":[{"name":"id","type":"string"},{"name":"tags","type":{"type":"array","items":"string"}}]}`
		case schema.FormatProtobuf:
			src = "syntax = \"proto3\";\nmessage User {\n  string id = 1;\n  map<string, int64> counts = 2;\n}\n"
		}
		a := mustNormalize(t, format, src)
		b := a.Clone()
		b.Fingerprint = ""

		for _, dir := range ModeFull.Directions() {
			if violations := CompareSchemas(a, b, dir); len(violations) != 0 {
				t.Errorf("%s %s: expected no violations comparing a schema with itself, got %v", format, dir, violations)
			}
		}
	}
}

func TestCompareSchemas_ForwardIsSwappedBackward(t *testing.T) {
	pairs := [][2]string{{userV1, userV2}, {userV2, userV3}, {userV3, userV1}}
	for _, pair := range pairs {
		oldSchema := mustNormalize(t, schema.FormatJSON, pair[0])
		newSchema := mustNormalize(t, schema.FormatJSON, pair[1])

		forward := CompareSchemas(newSchema, oldSchema, DirectionForward)
		swapped := CompareSchemas(oldSchema, newSchema, DirectionBackward)
		if len(forward) != len(swapped) {
			t.Fatalf("forward %v differs from swapped backward %v", forward, swapped)
		}
		for i := range forward {
			if forward[i].Kind != swapped[i].Kind || forward[i].Path != swapped[i].Path || forward[i].Severity != swapped[i].Severity {
				t.Errorf("violation %d: forward %v, swapped backward %v", i, forward[i], swapped[i])
			}
			if forward[i].Direction != DirectionForward {
				t.Errorf("forward violation tagged %s", forward[i].Direction)
			}
		}
	}
}

func TestWidens(t *testing.T) {
	tests := []struct {
		format   schema.Format
		from, to string
		want     bool
	}{
		{schema.FormatJSON, "integer", "number", true},
		{schema.FormatJSON, "number", "integer", false},
		{schema.FormatAvro, "int", "double", true},
		{schema.FormatAvro, "double", "float", false},
		{schema.FormatAvro, "bytes", "string", true},
		{schema.FormatProtobuf, "uint32", "bool", true},
		{schema.FormatProtobuf, "sint64", "sint32", true},
		{schema.FormatProtobuf, "sint32", "int32", false},
		{schema.FormatProtobuf, "string", "string", false},
		{schema.Format(42), "int", "long", false},
	}
	for _, tt := range tests {
		if got := Widens(tt.format, tt.from, tt.to); got != tt.want {
			t.Errorf("Widens(%s, %s, %s) = %v, want %v", tt.format, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestViolationBuilder(t *testing.T) {
	v := NewViolationBuilder(KindTypeChanged).
		WithPath("user.age").
		WithChange("string", "int").
		WithMessage("type changed from %s to %s", "string", "int").
		WithDirection(DirectionForward).
		AgainstVersion(schema.NewVersion(1, 2, 0)).
		Build()

	if v.Severity != SeverityBreaking {
		t.Errorf("default severity = %s, want BREAKING", v.Severity)
	}
	if v.Message != "type changed from string to int" {
		t.Errorf("Message = %q", v.Message)
	}
	if got := v.String(); got != "[BREAKING] TYPE_CHANGED at user.age: type changed from string to int (against 1.2.0)" {
		t.Errorf("String() = %q", got)
	}
}

func TestMode(t *testing.T) {
	for _, name := range []string{"NONE", "BACKWARD", "FORWARD", "FULL", "BACKWARD_TRANSITIVE", "FORWARD_TRANSITIVE", "FULL_TRANSITIVE"} {
		mode, err := ParseMode(name)
		if err != nil {
			t.Fatalf("ParseMode(%q) error = %v", name, err)
		}
		if mode.String() != name {
			t.Errorf("round trip %q -> %q", name, mode.String())
		}
	}
	if mode, err := ParseMode(" full_transitive "); err != nil || mode != ModeFullTransitive || !mode.IsTransitive() {
		t.Errorf("ParseMode is not case-insensitive: %v %v", mode, err)
	}
	if _, err := ParseMode("SIDEWAYS"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if ModeBackward.IsTransitive() {
		t.Error("BACKWARD is not transitive")
	}
	if len(ModeNone.Directions()) != 0 || len(ModeFull.Directions()) != 2 {
		t.Error("unexpected directions")
	}
}
